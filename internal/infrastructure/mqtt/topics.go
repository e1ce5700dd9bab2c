package mqtt

import "fmt"

// DefaultTopicPrefix is used when Topics.Prefix is empty.
const DefaultTopicPrefix = "grayorm"

// Topics builds the topic names Gray ORM publishes on.
//
//	topics := mqtt.Topics{Prefix: "grayorm"}
//	topics.EntityChange("employee", "insert")
//	// Returns: "grayorm/entity/employee/insert"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// EntityChange returns the topic for one committed change of an entity type.
//
// Example: grayorm/entity/employee/update
func (t Topics) EntityChange(entity, op string) string {
	return fmt.Sprintf("%s/entity/%s/%s", t.prefix(), entity, op)
}

// Flush returns the topic for flush summaries of a persistence unit.
//
// Example: grayorm/flush/staff
func (t Topics) Flush(unit string) string {
	return fmt.Sprintf("%s/flush/%s", t.prefix(), unit)
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: grayorm/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.prefix())
}

// AllEntityChanges returns a pattern matching every entity change.
//
// Pattern: grayorm/entity/+/+
func (t Topics) AllEntityChanges() string {
	return fmt.Sprintf("%s/entity/+/+", t.prefix())
}
