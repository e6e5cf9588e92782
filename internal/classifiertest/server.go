// Package classifiertest provides an in-process node classifier for tests.
// It serves the groups API over TLS and applies class deltas the way the
// classifier does: a class mapped to null is removed from the group.
package classifiertest

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/mpilhlt/pe-platform-classes/internal/classifier"
	"github.com/mpilhlt/pe-platform-classes/internal/models"

	huma "github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
)

// Update is a group update received by the server.
type Update struct {
	GroupID string
	Body    []byte
}

// Server is a fake classifier.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	groups     []models.NodeGroup
	updates    []Update
	ignored    []string
	lists      int
	listStatus int
	failStatus int
	allowed    map[string]bool
}

// NewServer starts a classifier serving the given groups with the PKI's
// server certificate. It is closed when the test ends.
func NewServer(t testing.TB, pki *PKI, groups ...models.NodeGroup) *Server {
	t.Helper()

	s := &Server{allowed: map[string]bool{}}
	s.SetGroups(groups...)

	config := huma.DefaultConfig("Node Classifier API", "1.0.0")
	router := http.NewServeMux()
	api := humago.New(router, config)
	api.UseMiddleware(s.certificateAuth(api))
	s.register(api)

	s.Server = httptest.NewUnstartedServer(router)
	s.Server.TLS = pki.ServerTLS()
	s.Server.StartTLS()
	t.Cleanup(s.Server.Close)
	return s
}

// Host returns the address the server listens on, without the port.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Listener.Addr().String())
	return host
}

// Port returns the port the server listens on.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return p
}

// Options returns CLI options pointing at this server with the PKI's client
// certificate.
func (s *Server) Options(pki *PKI) models.Options {
	return models.Options{
		Certname:    pki.Certname,
		Hostcert:    pki.ClientCert,
		Hostprivkey: pki.ClientKey,
		Localcacert: pki.CACert,
		Server:      s.Host(),
		Port:        s.Port(),
		Group:       models.DefaultGroup,
		Prefix:      models.DefaultPrefix,
	}
}

// Config returns a client configuration for this server.
func (s *Server) Config(pki *PKI) classifier.Config {
	return classifier.Config{
		Server:      s.Host(),
		Port:        s.Port(),
		Hostcert:    pki.ClientCert,
		Hostprivkey: pki.ClientKey,
		Localcacert: pki.CACert,
	}
}

// Allow restricts access to the given certnames. With no call every
// certificate signed by the CA is accepted.
func (s *Server) Allow(certnames ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range certnames {
		s.allowed[c] = true
	}
}

// FailList makes group listings answer with status.
func (s *Server) FailList(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listStatus = status
}

// FailUpdates makes group updates answer with status.
func (s *Server) FailUpdates(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
}

// SetGroups replaces the served groups.
func (s *Server) SetGroups(groups ...models.NodeGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = make([]models.NodeGroup, 0, len(groups))
	for _, g := range groups {
		s.groups = append(s.groups, g.Clone())
	}
}

// Group returns the current state of a group.
func (s *Server) Group(id string) (models.NodeGroup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.ID == id {
			return g.Clone(), true
		}
	}
	return models.NodeGroup{}, false
}

// Updates returns the updates received so far.
func (s *Server) Updates() []Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Update(nil), s.updates...)
}

// Ignored returns the classes unset by updates that their group did not have.
func (s *Server) Ignored() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ignored...)
}

// Lists returns the number of group listings served.
func (s *Server) Lists() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists
}

// Group builds a node group whose classes all have empty parameters.
func Group(id, name string, classes ...string) models.NodeGroup {
	g := models.NodeGroup{ID: id, Name: name, Parent: "00000000-0000-4000-8000-000000000000", Environment: "production"}
	for _, c := range classes {
		g.Classes.Set(c, json.RawMessage(`{}`))
	}
	return g
}

func (s *Server) register(api huma.API) {
	listOp := huma.Operation{
		OperationID: "list-groups",
		Method:      http.MethodGet,
		Path:        classifier.GroupsPath,
		Summary:     "List all node groups",
		Tags:        []string{"groups"},
	}
	updateOp := huma.Operation{
		OperationID: "update-group",
		Method:      http.MethodPost,
		Path:        classifier.GroupsPath + "/{id}",
		Summary:     "Update a node group with a delta",
		Tags:        []string{"groups"},
	}

	huma.Register(api, listOp, s.listGroups)
	huma.Register(api, updateOp, s.updateGroup)
}

func (s *Server) listGroups(ctx context.Context, input *models.ListGroupsRequest) (*models.ListGroupsResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lists++
	if s.listStatus != 0 {
		return nil, huma.NewError(s.listStatus, "group listing rejected")
	}
	body, err := json.Marshal(s.groups)
	if err != nil {
		return nil, huma.Error500InternalServerError(fmt.Sprintf("unable to encode groups. %v", err))
	}
	return &models.ListGroupsResponse{ContentType: "application/json", Body: body}, nil
}

func (s *Server) updateGroup(ctx context.Context, input *models.UpdateGroupRequest) (*models.UpdateGroupResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.updates = append(s.updates, Update{GroupID: input.ID, Body: append([]byte(nil), input.RawBody...)})
	if s.failStatus != 0 {
		return nil, huma.NewError(s.failStatus, "group update rejected")
	}

	delta := struct {
		Classes *models.ClassMap `json:"classes"`
	}{}
	if err := json.Unmarshal(input.RawBody, &delta); err != nil {
		return nil, huma.Error400BadRequest(fmt.Sprintf("malformed group delta. %v", err))
	}

	for i := range s.groups {
		if s.groups[i].ID != input.ID {
			continue
		}
		if delta.Classes != nil {
			for _, name := range delta.Classes.Names() {
				params, _ := delta.Classes.Params(name)
				switch {
				case params != nil:
					s.groups[i].Classes.Set(name, params)
				case s.groups[i].Classes.Has(name):
					s.groups[i].Classes.Delete(name)
				default:
					s.ignored = append(s.ignored, name)
				}
			}
		}
		body, err := json.Marshal(s.groups[i])
		if err != nil {
			return nil, huma.Error500InternalServerError(fmt.Sprintf("unable to encode group. %v", err))
		}
		return &models.UpdateGroupResponse{ContentType: "application/json", Body: body}, nil
	}
	return nil, huma.Error404NotFound(fmt.Sprintf("The group with id %s does not exist.", input.ID))
}

// certificateAuth rejects requests without a verified client certificate,
// and certificates not on the allowlist once one is set.
func (s *Server) certificateAuth(api huma.API) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		state := ctx.TLS()
		if state == nil || len(state.VerifiedChains) == 0 {
			_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "Authentication failed. A client certificate is required.")
			return
		}

		certname := state.VerifiedChains[0][0].Subject.CommonName
		s.mu.Lock()
		allowed := len(s.allowed) == 0 || s.allowed[certname]
		s.mu.Unlock()
		if !allowed {
			_ = huma.WriteErr(api, ctx, http.StatusForbidden, fmt.Sprintf("Certificate %s is not allowed.", certname))
			return
		}
		next(ctx)
	}
}
