// Package scheduler runs delayed tasks such as ride completion and battery
// recharge. Every task runs on its own timer; Stop cancels pending tasks and
// waits for running ones so a taxi can shut down cleanly.
package scheduler
