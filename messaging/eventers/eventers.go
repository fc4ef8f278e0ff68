package eventers

import (
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sasha-s/go-deadlock"

	"poolmachine/poolmachine"
)

// Producer turns state changes into signed nostr events. It satisfies
// poolmachine.Emitter so the custody machine never imports this package.
type Producer struct {
	fresh func(interface{}) bool
	mutex *deadlock.Mutex
}

func NewProducer() *Producer {
	return &Producer{
		fresh: poolmachine.MakeNewInverseBloomFilter(100000),
		mutex: &deadlock.Mutex{},
	}
}

func (p *Producer) Emit(sc poolmachine.StateChange) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	key := fmt.Sprintf("%s|%d|%s|%d|%v", sc.Name, sc.GoalID, sc.Actor, sc.Height, sc.Attributes)
	if !p.fresh(key) {
		return
	}
	kind, ok := KindForName(sc.Name)
	if !ok {
		poolmachine.LogCLI("no kind registered for "+sc.Name, 2)
		return
	}
	content, err := json.MarshalToString(sc.Attributes)
	if err != nil {
		poolmachine.LogCLI(err.Error(), 1)
		return
	}
	wallet := poolmachine.MyWallet()
	ev := nostr.Event{
		PubKey:    wallet.Account,
		CreatedAt: time.Now(),
		Kind:      kind,
		Tags: nostr.Tags{
			nostr.Tag{"goal", fmt.Sprintf("%d", sc.GoalID)},
			nostr.Tag{"actor", string(sc.Actor)},
			nostr.Tag{"height", fmt.Sprintf("%d", sc.Height)},
		},
		Content: content,
	}
	if err = ev.Sign(wallet.PrivateKey); err != nil {
		poolmachine.LogCLI(err.Error(), 1)
		return
	}
	addToBucket(ev)
	broadcast(ev)
}

var subscribers = make(map[int64]chan nostr.Event)
var subscribersMutex = &deadlock.Mutex{}
var nextSubscriber int64

// SubscribeToEvents returns a channel carrying every event produced after the
// call. Slow consumers miss events instead of blocking the producer.
func SubscribeToEvents() (int64, chan nostr.Event) {
	subscribersMutex.Lock()
	defer subscribersMutex.Unlock()
	nextSubscriber++
	c := make(chan nostr.Event, 256)
	subscribers[nextSubscriber] = c
	return nextSubscriber, c
}

func Unsubscribe(id int64) {
	subscribersMutex.Lock()
	defer subscribersMutex.Unlock()
	if c, ok := subscribers[id]; ok {
		close(c)
		delete(subscribers, id)
	}
}

func broadcast(ev nostr.Event) {
	subscribersMutex.Lock()
	defer subscribersMutex.Unlock()
	for _, c := range subscribers {
		select {
		case c <- ev:
		default:
		}
	}
}
