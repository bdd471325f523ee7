// Package notify delivers operator alerts about runner events.
//
// Delivery is asynchronous: alerts go through a bounded queue drained by a
// single worker under a token-bucket rate limit. When the queue is full the
// alert is dropped and counted, never blocking a scheduler pass. Transport
// is behind the Sender interface; the Telegram implementation lives in
// telegram.go.
package notify
