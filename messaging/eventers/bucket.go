package eventers

import (
	"io/ioutil"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/nbd-wtf/go-nostr"
	"github.com/sasha-s/go-deadlock"

	"poolmachine/database"
	"poolmachine/poolmachine"
)

var json = jsoniter.ConfigFastest

// bucket keeps every event we have produced this session so that the relay
// can replay history to late subscribers.
type bucket struct {
	data  []nostr.Event
	byID  map[string]struct{}
	mutex *deadlock.Mutex
}

var currentBucket = bucket{
	byID:  make(map[string]struct{}),
	mutex: &deadlock.Mutex{},
}

var persisting bool

// Start restores retained events from the flat file database and arranges a
// final snapshot on shutdown.
func Start(terminate chan struct{}, wg *sync.WaitGroup) {
	wg.Add(1)
	persisting = true
	restoreBucket()
	go func() {
		<-terminate
		takeBucketSnapshot()
		wg.Done()
		poolmachine.LogCLI("eventers shut down gracefully", 4)
	}()
}

func restoreBucket() {
	f, ok := database.Open("eventers", "current")
	if !ok {
		return
	}
	defer f.Close()
	b, err := ioutil.ReadAll(f)
	if err != nil {
		poolmachine.LogCLI(err.Error(), 0)
		return
	}
	var events []nostr.Event
	if err = json.Unmarshal(b, &events); err != nil {
		poolmachine.LogCLI(err.Error(), 0)
		return
	}
	currentBucket.mutex.Lock()
	defer currentBucket.mutex.Unlock()
	for _, ev := range events {
		if _, exists := currentBucket.byID[ev.ID]; exists {
			continue
		}
		currentBucket.data = append(currentBucket.data, ev)
		currentBucket.byID[ev.ID] = struct{}{}
	}
}

func takeBucketSnapshot() {
	if !persisting {
		return
	}
	currentBucket.mutex.Lock()
	defer currentBucket.mutex.Unlock()
	b, err := json.Marshal(currentBucket.data)
	if err != nil {
		poolmachine.LogCLI(err.Error(), 0)
		return
	}
	database.Write("eventers", "current", b)
}

func addToBucket(ev nostr.Event) {
	currentBucket.mutex.Lock()
	defer currentBucket.mutex.Unlock()
	if _, exists := currentBucket.byID[ev.ID]; exists {
		return
	}
	currentBucket.data = append(currentBucket.data, ev)
	currentBucket.byID[ev.ID] = struct{}{}
}

// AllEvents returns a copy of every retained event in production order.
func AllEvents() []nostr.Event {
	currentBucket.mutex.Lock()
	defer currentBucket.mutex.Unlock()
	out := make([]nostr.Event, len(currentBucket.data))
	copy(out, currentBucket.data)
	return out
}

// EventsForGoal filters retained events by their goal tag.
func EventsForGoal(goalID string) []nostr.Event {
	currentBucket.mutex.Lock()
	defer currentBucket.mutex.Unlock()
	var out []nostr.Event
	for _, ev := range currentBucket.data {
		for _, tag := range ev.Tags {
			if len(tag) > 1 && tag[0] == "goal" && tag[1] == goalID {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}
