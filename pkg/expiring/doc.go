// Package expiring implements self-expiring keyed stores.
//
// A Store maps string ids to payloads of any type. Each entry carries an
// absolute expiration time and is removed exactly once when that time
// passes, by an action the entry schedules on the store's own Scheduler.
// A RetryStore additionally gives every entry a retry budget that RetryGet
// spends; an exhausted entry is discarded early.
//
// Removal paths (timer, Remove, Put replacing an entry, retry exhaustion)
// all go through one identity-checked delete under the store mutex, so a
// timer that fires after its entry was replaced never touches the new one.
//
// Typical use:
//
//	st := expiring.NewRetry[Message](expiring.Config{Name: "outbox", DefaultRetries: 3})
//	defer st.Close()
//
//	if err := st.Add(msg.ID, msg, time.Now().Add(time.Minute)); err != nil {
//		// errors.Is(err, expiring.ErrAlreadyExists) / ErrExpired
//	}
//	if m, ok := st.RetryGet(msg.ID); ok {
//		resend(m)
//	}
package expiring
