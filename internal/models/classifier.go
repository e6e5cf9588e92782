package models

// Request and Response structs for the classifier groups API.
// The bodies are encoded by hand so that class order survives the round trip.

// List groups
// GET Path: "/classifier-api/v1/groups"

// ListGroupsRequest takes no input.
type ListGroupsRequest struct{}

// ListGroupsResponse carries the encoded group array.
type ListGroupsResponse struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// Update group
// POST Path: "/classifier-api/v1/groups/{id}"

// UpdateGroupRequest is a group delta for the group with the given id.
type UpdateGroupRequest struct {
	ID      string `path:"id" doc:"Identifier of the node group"`
	RawBody []byte
}

// UpdateGroupResponse carries the encoded group after the update.
type UpdateGroupResponse struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}
