package connectivity

import "sort"

// resubscribeTopics implements spec.md §4.I's reconnection policy: on a
// rejoined session (the broker reports it retained our prior subscription
// state), only topics whose previous subscribe attempt failed need
// reissuing; on a brand new session the broker has forgotten every
// subscription, so every desired topic must be resubscribed.
func resubscribeTopics(sessionPresent bool, desired, failed map[string]bool) []string {
	var topics []string
	if sessionPresent {
		for t := range failed {
			if desired[t] {
				topics = append(topics, t)
			}
		}
	} else {
		for t := range desired {
			topics = append(topics, t)
		}
	}
	sort.Strings(topics)
	return topics
}
