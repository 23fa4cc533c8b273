package chain

import "math/big"

// ApprovalWords converts per-milestone approval flags into the 0/1 uint256
// words create_deal takes for milestone_approvals.
func ApprovalWords(flags []bool) []*big.Int {
	out := make([]*big.Int, len(flags))
	for i, manual := range flags {
		out[i] = big.NewInt(0)
		if manual {
			out[i] = big.NewInt(1)
		}
	}
	return out
}

// escrowABI is the JSON ABI of the escrow contract, limited to the
// functions this service calls. Deal ids are assigned sequentially by the
// contract starting at zero.
const escrowABI = `[
  {"type":"function","name":"create_deal","stateMutability":"payable","inputs":[
    {"name":"_ref_id","type":"uint256"},
    {"name":"freelancer","type":"address"},
    {"name":"arbiter","type":"address"},
    {"name":"token","type":"address"},
    {"name":"amount","type":"uint256"},
    {"name":"milestone_amounts","type":"uint256[]"},
    {"name":"milestone_end_times","type":"uint256[]"},
    {"name":"milestone_approvals","type":"uint256[]"}
  ],"outputs":[{"name":"deal_id","type":"uint256"}]},
  {"type":"function","name":"release_milestone","stateMutability":"nonpayable","inputs":[
    {"name":"deal_id","type":"uint256"},
    {"name":"milestone_index","type":"uint256"}
  ],"outputs":[]},
  {"type":"function","name":"raise_dispute","stateMutability":"nonpayable","inputs":[
    {"name":"deal_id","type":"uint256"}
  ],"outputs":[]},
  {"type":"function","name":"resolve_dispute","stateMutability":"nonpayable","inputs":[
    {"name":"deal_id","type":"uint256"},
    {"name":"client_share","type":"uint256"},
    {"name":"freelancer_share","type":"uint256"}
  ],"outputs":[]},
  {"type":"function","name":"get_deal_status","stateMutability":"view","inputs":[
    {"name":"deal_id","type":"uint256"}
  ],"outputs":[{"name":"status","type":"uint256"}]},
  {"type":"function","name":"get_deal_amount","stateMutability":"view","inputs":[
    {"name":"deal_id","type":"uint256"}
  ],"outputs":[{"name":"amount","type":"uint256"}]},
  {"type":"function","name":"get_deal_client","stateMutability":"view","inputs":[
    {"name":"deal_id","type":"uint256"}
  ],"outputs":[{"name":"client","type":"address"}]},
  {"type":"function","name":"get_deal_freelancer","stateMutability":"view","inputs":[
    {"name":"deal_id","type":"uint256"}
  ],"outputs":[{"name":"freelancer","type":"address"}]},
  {"type":"function","name":"get_deal_arbiter","stateMutability":"view","inputs":[
    {"name":"deal_id","type":"uint256"}
  ],"outputs":[{"name":"arbiter","type":"address"}]},
  {"type":"function","name":"get_milestone","stateMutability":"view","inputs":[
    {"name":"deal_id","type":"uint256"},
    {"name":"index","type":"uint256"}
  ],"outputs":[
    {"name":"amount","type":"uint256"},
    {"name":"is_released","type":"bool"},
    {"name":"end_timestamp","type":"uint256"},
    {"name":"requires_approval","type":"bool"}
  ]}
]`
