// Package wire defines the on-the-wire protocol shared by the client, the
// Authentication Service, and the Delivery Service: the
// OnWireMessage variants, the length-prefixed frame codec, and the
// CommGroupId value type.
package wire

import "fmt"

// CommGroupId identifies a group within a community. It is a value type
// with a total order by lexicographic concatenation.
type CommGroupId struct {
	CommunityID string `json:"community_id"`
	GroupID     string `json:"group_id"`
}

// String renders the identifier as "community/group", used for map keys
// and log fields.
func (c CommGroupId) String() string {
	return fmt.Sprintf("%s/%s", c.CommunityID, c.GroupID)
}

// Less implements the total order by lexicographic concatenation.
func (c CommGroupId) Less(other CommGroupId) bool {
	return c.CommunityID+c.GroupID < other.CommunityID+other.GroupID
}
