// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package journal

import (
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/offchainlabs/rollupcore/protocol"
)

var (
	eventPrefix []byte = []byte("e") // maps an event sequence number to a journal record

	eventCountKey []byte = []byte("_eventCount") // contains the number of journaled events
)

func uint64ToBytes(x uint64) []byte {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, x)
	return data
}

func dbKey(prefix []byte, pos uint64) []byte {
	var key []byte
	key = append(key, prefix...)
	key = append(key, uint64ToBytes(pos)...)
	return key
}

// eventKinds names every event type the journal can store. Names are part
// of the on-disk format.
var eventKinds = map[string]func() protocol.RollupEvent{
	"NodeCreated":                  func() protocol.RollupEvent { return &protocol.NodeCreatedEvent{} },
	"NodeConfirmed":                func() protocol.RollupEvent { return &protocol.NodeConfirmedEvent{} },
	"NodeRejected":                 func() protocol.RollupEvent { return &protocol.NodeRejectedEvent{} },
	"NodeStaked":                   func() protocol.RollupEvent { return &protocol.NodeStakedEvent{} },
	"RollupChallengeStarted":       func() protocol.RollupEvent { return &protocol.RollupChallengeStartedEvent{} },
	"ChallengeResolved":            func() protocol.RollupEvent { return &protocol.ChallengeResolvedEvent{} },
	"UserStakeUpdated":             func() protocol.RollupEvent { return &protocol.UserStakeUpdatedEvent{} },
	"UserWithdrawableFundsUpdated": func() protocol.RollupEvent { return &protocol.UserWithdrawableFundsUpdatedEvent{} },
	"ZombieCreated":                func() protocol.RollupEvent { return &protocol.ZombieCreatedEvent{} },
	"Paused":                       func() protocol.RollupEvent { return &protocol.PausedEvent{} },
	"Resumed":                      func() protocol.RollupEvent { return &protocol.ResumedEvent{} },
	"OwnerFunctionCalled":          func() protocol.RollupEvent { return &protocol.OwnerFunctionCalledEvent{} },
	"AdminHalted":                  func() protocol.RollupEvent { return &protocol.AdminHaltedEvent{} },
	"InitiatedChallenge":           func() protocol.RollupEvent { return &protocol.InitiatedChallengeEvent{} },
	"ChallengeBisected":            func() protocol.RollupEvent { return &protocol.ChallengeBisectedEvent{} },
	"ExecutionChallengeBegun":      func() protocol.RollupEvent { return &protocol.ExecutionChallengeBegunEvent{} },
	"OneStepProofCompleted":        func() protocol.RollupEvent { return &protocol.OneStepProofCompletedEvent{} },
	"ChallengeEnded":               func() protocol.RollupEvent { return &protocol.ChallengeEndedEvent{} },
}

var kindsByType = func() map[reflect.Type]string {
	kinds := make(map[reflect.Type]string, len(eventKinds))
	for name, newEvent := range eventKinds {
		kinds[reflect.TypeOf(newEvent())] = name
	}
	return kinds
}()

func kindOf(ev protocol.RollupEvent) (string, error) {
	kind, ok := kindsByType[reflect.TypeOf(ev)]
	if !ok {
		return "", fmt.Errorf("no journal kind for event type %T", ev)
	}
	return kind, nil
}
