package messaging

// Topic constants for the proof relay messaging system
const (
	TopicProofRequests = "spv.proof_requests" // bridge → spvrelay
	TopicProofResults  = "spv.proof_results"  // spvrelay → bridge
	TopicProofBundles  = "spv.proof_bundles"  // spvrelay → bridge (verified proofs only, protobuf)
)
