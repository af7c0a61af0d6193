package bus

// Topic constants for every event the runtime produces or consumes.
// Payload shapes are documented per constant; all payloads are
// map[string]any with JSON-compatible values.
const (
	// TopicUserMessage carries {text, tick} from the inbox file.
	TopicUserMessage = "user.message"
	// TopicUserUrgent carries {text, tick}; raised when the inbox content
	// starts with the urgent prefix (stripped before delivery).
	TopicUserUrgent = "user.urgent"

	// TopicFileCreated, TopicFileChanged and TopicFileDeleted carry {path}.
	TopicFileCreated = "world.file_created"
	TopicFileChanged = "world.file_changed"
	TopicFileDeleted = "world.file_deleted"
	// TopicWorldUpdated carries {summary}.
	TopicWorldUpdated = "world.updated"
	// TopicWorldReady carries {file_count} after the initial scan.
	TopicWorldReady = "world.ready"

	// TopicConfigModified carries {key, new_value, old_value}.
	TopicConfigModified = "config.modified"

	// TopicPrincipleAdded carries {text, version}.
	TopicPrincipleAdded = "self.principle_added"
	// TopicDriftDetected carries {past_version, current_version, delta}.
	TopicDriftDetected = "self.drift_detected"

	// TopicValueChanged carries {scores, mode, context}.
	TopicValueChanged = "value.changed"
	// TopicStrategyChanged carries {vector}.
	TopicStrategyChanged = "strategy.vector_changed"
	// TopicDreamCompleted carries the consolidation summary.
	TopicDreamCompleted = "dream.completed"
	// TopicReflectionCompleted carries {tick, contradictions}.
	TopicReflectionCompleted = "reflection.completed"
	// TopicNarrativeWritten carries {tick}.
	TopicNarrativeWritten = "narrative.entry_written"
	// TopicMilestoneAchieved carries {name, desc, context}.
	TopicMilestoneAchieved = "milestone.achieved"

	// TopicHealthChanged carries {service, healthy, latency_ms}.
	TopicHealthChanged = "health.changed"
)

// AllTopics lists every known topic, in the order above. The WebSocket hub
// uses it to validate client subscriptions.
var AllTopics = []string{
	TopicUserMessage,
	TopicUserUrgent,
	TopicFileCreated,
	TopicFileChanged,
	TopicFileDeleted,
	TopicWorldUpdated,
	TopicWorldReady,
	TopicConfigModified,
	TopicPrincipleAdded,
	TopicDriftDetected,
	TopicValueChanged,
	TopicStrategyChanged,
	TopicDreamCompleted,
	TopicReflectionCompleted,
	TopicNarrativeWritten,
	TopicMilestoneAchieved,
	TopicHealthChanged,
}

// KnownTopic reports whether topic is one of the declared constants.
func KnownTopic(topic string) bool {
	for _, t := range AllTopics {
		if t == topic {
			return true
		}
	}
	return false
}
