package main

// shortID truncates an order id to 8 bytes for log lines.
func shortID(id string) string {
	const n = 8
	if len(id) <= n {
		return id
	}
	return id[:n]
}
