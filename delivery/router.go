package delivery

import (
	"context"
	"fmt"

	goVerify "github.com/MrEthical07/goVerify"
)

// Router sends each message through the gateway registered for its channel.
type Router struct {
	routes map[goVerify.Channel]goVerify.DeliveryGateway
}

func NewRouter() *Router {
	return &Router{routes: map[goVerify.Channel]goVerify.DeliveryGateway{}}
}

// Route registers gw for channel, replacing any previous registration.
func (r *Router) Route(channel goVerify.Channel, gw goVerify.DeliveryGateway) *Router {
	r.routes[channel] = gw
	return r
}

func (r *Router) Deliver(ctx context.Context, msg goVerify.Message) error {
	gw, ok := r.routes[msg.Channel]
	if !ok || gw == nil {
		return fmt.Errorf("delivery: no gateway for channel %s", msg.Channel)
	}
	return gw.Deliver(ctx, msg)
}

// Sandbox reports true only when every registered gateway is a sandbox.
func (r *Router) Sandbox() bool {
	if len(r.routes) == 0 {
		return false
	}
	for _, gw := range r.routes {
		sg, ok := gw.(goVerify.SandboxGateway)
		if !ok || !sg.Sandbox() {
			return false
		}
	}
	return true
}
