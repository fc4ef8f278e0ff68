package eventers

import (
	"github.com/sasha-s/go-deadlock"

	"poolmachine/poolmachine"
)

// Every state-changing operation gets its own event kind so that indexers can
// filter without parsing content.
var validKinds = make(map[string]int)
var kindsByNumber = make(map[int]string)
var kindsMutex = &deadlock.Mutex{}

func init() {
	registerKind("pool_initialized", 64500)
	registerKind("pool_deposit", 64501)
	registerKind("pool_withdrawal", 64502)
	registerKind("pool_locked", 64503)
	registerKind("pool_unlocked", 64504)
	registerKind("pool_deactivated", 64505)
	registerKind("goal_status_updated", 64510)
	registerKind("refund_initiated", 64520)
	registerKind("withdrawal_vote", 64521)
	registerKind("withdrawal_executed", 64522)
	registerKind("payout_claimed", 64523)
	registerKind("participant_share_set", 64524)
	registerKind("param_admin_set", 64530)
	registerKind("param_oracle_set", 64531)
	registerKind("param_voting_threshold_set", 64532)
	registerKind("param_time_lock_set", 64533)
	registerKind("param_max_voters_set", 64534)
	registerKind("param_deposit_fee_set", 64535)
	registerKind("param_pool_cap_set", 64536)
}

func registerKind(name string, kind int) {
	kindsMutex.Lock()
	defer kindsMutex.Unlock()
	if taken, ok := kindsByNumber[kind]; ok {
		poolmachine.LogCLI("kind already registered by "+taken, 0)
		return
	}
	validKinds[name] = kind
	kindsByNumber[kind] = name
}

func KindForName(name string) (int, bool) {
	kindsMutex.Lock()
	defer kindsMutex.Unlock()
	kind, ok := validKinds[name]
	return kind, ok
}

func NameForKind(kind int) (string, bool) {
	kindsMutex.Lock()
	defer kindsMutex.Unlock()
	name, ok := kindsByNumber[kind]
	return name, ok
}
