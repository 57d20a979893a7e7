package messaging

// Topic constants for the mining messaging system
const (
	// Core mining workflow topics
	TopicJobs      = "pow.jobs"      // jobmanager → minerd
	TopicSolutions = "pow.solutions" // minerd → jobmanager

	// Genesis self-check reports
	TopicVerifications = "pow.verifications" // minerd, powctl → operators
)
