// Package agent runs generations as sessions and fans their events out
// to any number of subscribers.
//
// # Overview
//
// A Session turns one user message into one assistant turn. It drives
// the model through the tool loop, publishes every step as a typed
// stream event, and persists the finished turn before announcing the
// terminal event. Sessions are single-use: one message in, one turn
// out, then disposal.
//
// # Lifecycle
//
// A session moves through four states:
//
//	Idle       // constructed, not yet started
//	Generating // the run goroutine is working
//	Aborted    // Stop was called; the run goroutine is unwinding
//	Finishing  // content is final, persistence in progress
//
// and is Disposed when its goroutine exits. Stop is a request, not a
// teardown: an aborted session still persists what it produced and
// still emits its terminal event. Done is closed only after the
// terminal event is in the replay buffer and the session has removed
// itself from its Registry.
//
// # Streaming
//
// Every event carries a sequence number, assigned contiguously from 1.
// Events go into an in-memory replay buffer and from there to
// subscribers. Subscribing replays the buffer first and then tails, so
// a client that attaches mid-generation sees the complete event
// sequence. A subscriber that stops draining is dropped by closing its
// channel; it resynchronizes by subscribing again or by reloading the
// conversation from storage.
//
// # Registry
//
// The Registry holds at most one live session per conversation. Adding
// a session for a conversation that already has one supersedes the old
// session: it is stopped and fully disposed before the new one takes
// the slot, so two generations never write to the same conversation
// concurrently.
//
// # Usage
//
//	sess, err := agent.New(agent.Config{
//	    Genkit:         g,
//	    Store:          store,
//	    Logger:         logger,
//	    Tools:          tools,
//	    ModelName:      "googleai/gemini-2.5-flash",
//	    ConversationID: conv.ID,
//	    OwnerID:        ownerID,
//	    History:        conv.Turns,
//	    UserTurn:       userTurn,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := registry.Create(ctx, sess); err != nil {
//	    return err
//	}
//	events, cancel := sess.Subscribe()
//	defer cancel()
//	sess.Start()
//	for ev := range events {
//	    // write ev to the client
//	}
package agent
