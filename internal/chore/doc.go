// Package chore is the reminder lifecycle engine.
//
// A reminder cycles through three derived states: Idle, AwaitingSelfReport
// and AwaitingPeerVerification. Timer firings, marker presses and user
// commands all run as tasks on the reminder's serialization lane, so no two
// operations on one reminder interleave. Storage is always written before
// the scheduler is re-programmed.
package chore
