package bus

// Topic names are literal Redis pub/sub channels (SPEC_FULL §6).
const (
	TopicMetacash         = "metacash"
	TopicHopperRequest    = "hopper-request"
	TopicValidatorRequest = "validator-request"
	TopicHopperResponse   = "hopper-response"
	TopicValidatorResponse = "validator-response"
	TopicHopperEvent      = "hopper-event"
	TopicValidatorEvent   = "validator-event"
)

// RequestTopics lists every topic the daemon subscribes to.
var RequestTopics = []string{TopicMetacash, TopicHopperRequest, TopicValidatorRequest}
