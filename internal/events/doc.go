// Package events provides the in-process event bus for FieldLink Core.
//
// Components publish domain events (readings saved, device sessions
// opening and closing) and consumers subscribe by event type. Delivery is
// best-effort fan-out: publishing never blocks, and a subscriber whose
// buffer is full loses the event rather than stalling the pipeline.
//
// # Usage
//
//	bus := events.NewBus(64, log)
//
//	ch, cancel := bus.Subscribe(events.TypeReadingSaved)
//	defer cancel()
//	go func() {
//	    for ev := range ch {
//	        // react to the reading
//	    }
//	}()
//
//	bus.Publish(events.Event{
//	    Type:     events.TypeReadingSaved,
//	    DeviceID: "meter-001",
//	    Key:      "voltage",
//	    Value:    230.5,
//	})
package events
