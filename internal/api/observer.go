package api

import (
	"encoding/json"
	"log"

	"github.com/rawblock/coinjoind/pkg/models"
)

// HubObserver adapts the websocket Hub to registry.Observer, so peer and
// offer lifecycle events reach dashboard clients the same way the teacher's
// BroadcastCoinJoinAlert pushed scanner alerts.
type HubObserver struct {
	Hub *Hub
}

func (o *HubObserver) publish(kind string, payload interface{}) {
	b, err := json.Marshal(map[string]interface{}{"type": kind, "data": payload})
	if err != nil {
		log.Printf("api: failed to marshal %s event: %v", kind, err)
		return
	}
	o.Hub.Broadcast(b)
}

func (o *HubObserver) OnPeerUpdated(p models.Peer) { o.publish("peer_updated", p) }
func (o *HubObserver) OnPeerRemoved(nick string)   { o.publish("peer_removed", map[string]string{"nick": nick}) }
func (o *HubObserver) OnOfferUpdated(of models.Offer) { o.publish("offer_updated", of) }
