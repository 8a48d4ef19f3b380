package campaign

import "strings"

// Static cloud <-> device topic names and templates, per spec.md §6.
const (
	TopicDecoderManifestNotify  = "decoder-manifest/notify"
	TopicCollectionSchemesNotify = "collection-schemes/notify"
	TopicLastKnownStateNotify   = "last-known-state/notify"
	TopicCommandsRequest        = "commands/request"

	TopicCheckin            = "checkin"
	TopicLastKnownStateData = "last-known-state/data"
)

// TopicTelemetry builds the device-to-cloud publish topic for one campaign.
func TopicTelemetry(campaignSyncID string) string {
	return "telemetry/" + campaignSyncID
}

// TopicCommandResponse builds the device-to-cloud response topic for one
// command ID.
func TopicCommandResponse(commandID string) string {
	return "commands/response/" + commandID
}

// RouteKind classifies an inbound cloud->device topic for dispatch.
type RouteKind uint8

const (
	RouteUnknown RouteKind = iota
	RouteDecoderManifest
	RouteCollectionSchemes
	RouteLastKnownStateNotify
	RouteCommandsRequest
	RouteJobNotify
)

// Route is the classification of one inbound topic.
type Route struct {
	Kind  RouteKind
	Thing string // populated for job-family topics
	Job   string
}

// ParseTopic classifies an inbound MQTT topic into a Route naming the
// subsystem it belongs to (campaign lifecycle manager, LKS inspector, or
// command handler). The connectivity layer does not call it: its inbound
// dispatch matches each receiver's own topic filter (topicMatches).
func ParseTopic(topic string) Route {
	switch topic {
	case TopicDecoderManifestNotify:
		return Route{Kind: RouteDecoderManifest}
	case TopicCollectionSchemesNotify:
		return Route{Kind: RouteCollectionSchemes}
	case TopicLastKnownStateNotify:
		return Route{Kind: RouteLastKnownStateNotify}
	case TopicCommandsRequest:
		return Route{Kind: RouteCommandsRequest}
	}

	// $aws/things/{thing}/jobs/... family.
	parts := strings.Split(topic, "/")
	if len(parts) >= 4 && parts[0] == "$aws" && parts[1] == "things" && parts[3] == "jobs" {
		route := Route{Kind: RouteJobNotify, Thing: parts[2]}
		if len(parts) >= 5 {
			route.Job = parts[4]
		}
		return route
	}

	return Route{Kind: RouteUnknown}
}
