// Package event provides a synchronous pub-sub bus and the events the
// continuation engine publishes on it.
//
// # Event Types
//
//   - [SessionResetEvent] (session.reset): a stale busy session was forced idle
//   - [LoopCompleteEvent] (loop.complete): a quality loop ended
//   - [TurnCompleteEvent] (turn.complete): the agent finished a turn
//   - [MessageSpawnedEvent] (message.spawned): a message was handed to the agent
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers run synchronously on the
// publishing goroutine; a panicking handler is recovered and logged so it
// cannot stop delivery to the others.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeLoopComplete, func(e event.Event) {
//	    done := e.(event.LoopCompleteEvent)
//	    fmt.Println(done.SessionID, done.Reason)
//	})
//	bus.SubscribeAll(func(e event.Event) {
//	    logger.Debug("event", "type", e.EventType())
//	})
package event
