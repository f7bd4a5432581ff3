// Package node hosts SHIP connections for one local identity.
//
// A Node accepts inbound connections as responder and dials outbound
// connections as initiator. Each connection runs the full SHIP lifecycle
// independently; the node only tracks them, routes their events to
// registered handlers and offers operator actions by connection ID.
//
//	n, _ := node.New(node.Config{
//	    Identity:      id,
//	    ListenAddress: ":4712",
//	    Trust:         store,
//	})
//	n.OnEvent(func(ev node.Event) { ... })
//	_ = n.Start(ctx)
//	defer n.Stop()
//
//	c, _ := n.Connect(ctx, "192.168.1.20:4712", "")
//	<-c.Ready()
//	_ = n.Send(c.ID(), payload)
package node
