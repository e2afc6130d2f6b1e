package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"simplewhats/internal/avatar"
	"simplewhats/internal/events"
	"simplewhats/internal/identity"
	"simplewhats/internal/relay"
	"simplewhats/internal/storage"
	"simplewhats/internal/store"
)

const testSecret = "test-webhook-secret"

type fakeContact struct {
	ID          string
	WorkspaceID string
	Phone       string
	AvatarPath  string
}

type fakeStore struct {
	profiles      map[string]store.Profile
	conversations map[string]store.Conversation
	assignments   []struct{ ConversationID, AgentID string }
	contacts      []*fakeContact
	logs          []store.WebhookLogEntry

	failInsertLog bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles:      map[string]store.Profile{},
		conversations: map[string]store.Conversation{},
	}
}

func (f *fakeStore) GetProfileByUserID(ctx context.Context, userID string) (store.Profile, error) {
	p, ok := f.profiles[userID]
	if !ok {
		return store.Profile{}, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) UpsertProfile(ctx context.Context, p store.Profile) error {
	f.profiles[p.UserID] = p
	return nil
}

func (f *fakeStore) GetConversation(ctx context.Context, id string) (store.Conversation, error) {
	c, ok := f.conversations[id]
	if !ok {
		return store.Conversation{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) AssignConversationAgent(ctx context.Context, conversationID, agentID string) error {
	c, ok := f.conversations[conversationID]
	if !ok {
		return store.ErrNotFound
	}
	c.AssignedAgentID = agentID
	f.conversations[conversationID] = c
	return nil
}

func (f *fakeStore) RecordAssignment(ctx context.Context, conversationID, agentID string, at time.Time) error {
	f.assignments = append(f.assignments, struct{ ConversationID, AgentID string }{conversationID, agentID})
	return nil
}

func (f *fakeStore) CreateConversation(ctx context.Context, workspaceID string) (string, error) {
	id := "conv-seeded"
	f.conversations[id] = store.Conversation{ID: id, WorkspaceID: workspaceID}
	return id, nil
}

func (f *fakeStore) FindContactID(ctx context.Context, workspaceID, phone string) (string, error) {
	for _, c := range f.contacts {
		if c.WorkspaceID == workspaceID && c.Phone == phone {
			return c.ID, nil
		}
	}
	return "", store.ErrNotFound
}

func (f *fakeStore) UpdateContactAvatar(ctx context.Context, contactID, avatarPath string) error {
	for _, c := range f.contacts {
		if c.ID == contactID {
			c.AvatarPath = avatarPath
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeStore) InsertContact(ctx context.Context, workspaceID, phone, avatarPath string) (string, error) {
	c := &fakeContact{
		ID:          "contact-" + phone,
		WorkspaceID: workspaceID,
		Phone:       phone,
		AvatarPath:  avatarPath,
	}
	f.contacts = append(f.contacts, c)
	return c.ID, nil
}

func (f *fakeStore) InsertWebhookLog(ctx context.Context, e store.WebhookLogEntry) error {
	if f.failInsertLog {
		return errors.New("insert failed")
	}
	f.logs = append(f.logs, e)
	return nil
}

func (f *fakeStore) WebhookLogExists(ctx context.Context, route, externalMessageID string) (bool, error) {
	for _, e := range f.logs {
		if e.Route == route && e.ExternalMessageID == externalMessageID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) logsWithStatus(route, status string) []store.WebhookLogEntry {
	var out []store.WebhookLogEntry
	for _, e := range f.logs {
		if e.Route == route && e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

type fakeIdentity struct {
	session   identity.Session
	signinErr error

	created   []string
	createErr error
}

func (f *fakeIdentity) SignInWithPassword(ctx context.Context, email, password string) (identity.Session, error) {
	if f.signinErr != nil {
		return identity.Session{}, f.signinErr
	}
	return f.session, nil
}

func (f *fakeIdentity) AdminCreateUser(ctx context.Context, email, password, name string) (identity.User, error) {
	if f.createErr != nil {
		return identity.User{}, f.createErr
	}
	f.created = append(f.created, email)
	return identity.User{ID: "new-user-1", Email: email}, nil
}

type fakeTokens struct {
	users map[string]string
}

func (f *fakeTokens) ResolveUserID(ctx context.Context, token string) (string, error) {
	id, ok := f.users[token]
	if !ok {
		return "", identity.ErrNoIdentity
	}
	return id, nil
}

type fakeGateway struct {
	uploads       []storage.UploadParams
	ensured       int
	failUpload    error
	failEnsure    error
}

func (f *fakeGateway) EnsureBuckets(ctx context.Context) error {
	if f.failEnsure != nil {
		return f.failEnsure
	}
	f.ensured++
	return nil
}

func (f *fakeGateway) Upload(ctx context.Context, p storage.UploadParams) (storage.UploadResult, error) {
	if f.failUpload != nil {
		return storage.UploadResult{}, f.failUpload
	}
	f.uploads = append(f.uploads, p)
	return storage.UploadResult{
		Path:      p.Path,
		SignedURL: "https://signed.example/" + p.Path,
	}, nil
}

func (f *fakeGateway) AvatarsBucket() string     { return "avatars" }
func (f *fakeGateway) AttachmentsBucket() string { return "attachments" }

type fakeRelay struct {
	pingResult relay.Result
	pingErr    error

	forwardURL     string
	forwardSecret  string
	forwardPayload []byte
	forwardResult  relay.Result
	forwardErr     error
}

func (f *fakeRelay) Ping(ctx context.Context) (relay.Result, error) {
	return f.pingResult, f.pingErr
}

func (f *fakeRelay) Forward(ctx context.Context, url, secret string, payload []byte) (relay.Result, error) {
	f.forwardURL = url
	f.forwardSecret = secret
	f.forwardPayload = payload
	return f.forwardResult, f.forwardErr
}

type fakeAvatars struct {
	img avatar.Image
	err error

	explicitURL string
	phone       string
}

func (f *fakeAvatars) Fetch(ctx context.Context, explicitURL, phone string) (avatar.Image, error) {
	f.explicitURL = explicitURL
	f.phone = phone
	if f.err != nil {
		return avatar.Image{}, f.err
	}
	return f.img, nil
}

type recordingPublisher struct {
	published []events.Envelope
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, msg events.Envelope) error {
	p.published = append(p.published, msg)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type testEnv struct {
	store    *fakeStore
	identity *fakeIdentity
	tokens   *fakeTokens
	gateway  *fakeGateway
	relay    *fakeRelay
	avatars  *fakeAvatars
	events   *recordingPublisher
	handler  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    newFakeStore(),
		identity: &fakeIdentity{},
		tokens:   &fakeTokens{users: map[string]string{}},
		gateway:  &fakeGateway{},
		relay:    &fakeRelay{},
		avatars:  &fakeAvatars{},
		events:   &recordingPublisher{},
	}
	env.handler = NewRouter(Deps{
		Store:    env.store,
		Identity: env.identity,
		Tokens:   env.tokens,
		Storage:  env.gateway,
		Relay:    env.relay,
		Avatars:  env.avatars,
		Events:   env.events,

		WebhookSecret:    testSecret,
		MakeAPIToken:     "make-token",
		OutboxWebhookURL: "https://hook.example/out",
	})
	return env
}

// addUser registers a token and a profile in one step.
func (e *testEnv) addUser(token, userID, role, workspaceID string) {
	e.tokens.users[token] = userID
	e.store.profiles[userID] = store.Profile{
		UserID:      userID,
		Name:        "User " + userID,
		Role:        role,
		WorkspaceID: workspaceID,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body == "" {
		rd = bytes.NewReader(nil)
	} else {
		rd = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)

	var decoded map[string]any
	if strings.Contains(rr.Header().Get("Content-Type"), "json") {
		_ = json.Unmarshal(rr.Body.Bytes(), &decoded)
	}
	return rr, decoded
}

func authHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func secretHeader() map[string]string {
	return map[string]string{relay.SecretHeader: testSecret}
}

func TestSignIn(t *testing.T) {
	env := newTestEnv(t)
	env.identity.session = identity.Session{
		User:         identity.User{ID: "u1", Email: "a@b.c"},
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    1234567890,
	}

	rr, body := env.do(t, http.MethodPost, "/api/auth/signin", `{"email":"a@b.c","password":"pw"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body)
	}
	if body["access_token"] != "at" || body["refresh_token"] != "rt" {
		t.Fatalf("tokens missing: %v", body)
	}
	user, _ := body["user"].(map[string]any)
	if user["id"] != "u1" || user["email"] != "a@b.c" {
		t.Fatalf("user = %v", user)
	}
}

func TestSignInMissingCredentials(t *testing.T) {
	env := newTestEnv(t)
	rr, body := env.do(t, http.MethodPost, "/api/auth/signin", `{"email":"a@b.c"}`, nil)
	if rr.Code != http.StatusBadRequest || body["error"] != "missing_credentials" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
}

func TestSignInProviderFailure(t *testing.T) {
	env := newTestEnv(t)
	env.identity.signinErr = errors.New("Invalid login credentials")

	rr, body := env.do(t, http.MethodPost, "/api/auth/signin", `{"email":"a@b.c","password":"bad"}`, nil)
	if rr.Code != http.StatusUnauthorized || body["error"] != "signin_failed" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
	if body["message"] != "Invalid login credentials" {
		t.Fatalf("provider message not passed through: %v", body)
	}
}

func TestGetMe(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("tok-1", "u1", store.RoleAgent, "ws1")

	rr, body := env.do(t, http.MethodGet, "/api/me", "", authHeader("tok-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body)
	}
	if body["id"] != "u1" || body["role"] != store.RoleAgent || body["workspace_id"] != "ws1" {
		t.Fatalf("profile = %v", body)
	}
}

func TestGetMeAuthFailures(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("tok-1", "u1", store.RoleAgent, "ws1")

	rr, body := env.do(t, http.MethodGet, "/api/me", "", nil)
	if rr.Code != http.StatusUnauthorized || body["error"] != "unauthorized" {
		t.Fatalf("no token: status = %d body = %v", rr.Code, body)
	}

	rr, body = env.do(t, http.MethodGet, "/api/me", "", authHeader("unknown"))
	if rr.Code != http.StatusUnauthorized || body["error"] != "invalid_token" {
		t.Fatalf("bad token: status = %d body = %v", rr.Code, body)
	}

	env.tokens.users["tok-2"] = "no-profile"
	rr, body = env.do(t, http.MethodGet, "/api/me", "", authHeader("tok-2"))
	if rr.Code != http.StatusNotFound || body["error"] != "profile_not_found" {
		t.Fatalf("no profile: status = %d body = %v", rr.Code, body)
	}
}

func TestAdminBootstrap(t *testing.T) {
	env := newTestEnv(t)

	rr, body := env.do(t, http.MethodPost, "/api/admin/bootstrap",
		`{"email":"boss@x.co","password":"pw","name":"Boss","workspaceId":"ws1"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body)
	}
	if body["user_id"] != "new-user-1" {
		t.Fatalf("body = %v", body)
	}
	p := env.store.profiles["new-user-1"]
	if p.Role != store.RoleMaster || p.WorkspaceID != "ws1" || p.Name != "Boss" {
		t.Fatalf("profile = %+v", p)
	}
}

func TestAdminBootstrapMissingFields(t *testing.T) {
	env := newTestEnv(t)

	rr, body := env.do(t, http.MethodPost, "/api/admin/bootstrap",
		`{"email":"boss@x.co","password":"pw"}`, nil)
	if rr.Code != http.StatusBadRequest || body["error"] != "missing_fields" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
	if len(env.identity.created) != 0 {
		t.Fatalf("identity provider called despite missing fields: %v", env.identity.created)
	}
	if len(env.store.profiles) != 0 {
		t.Fatalf("profile written despite missing fields")
	}
}

func TestAdminPromote(t *testing.T) {
	env := newTestEnv(t)
	env.tokens.users["tok-1"] = "u1"

	rr, body := env.do(t, http.MethodPost, "/api/admin/promote",
		`{"workspaceId":"ws9","name":"Admin A"}`, authHeader("tok-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body)
	}
	if body["workspace_id"] != "ws9" || body["user_id"] != "u1" {
		t.Fatalf("body = %v", body)
	}
	if p := env.store.profiles["u1"]; p.Role != store.RoleAdmin || p.WorkspaceID != "ws9" {
		t.Fatalf("profile = %+v", p)
	}
}

func TestAdminPromoteWorkspaceHeaderFallback(t *testing.T) {
	env := newTestEnv(t)
	env.tokens.users["tok-1"] = "u1"

	h := authHeader("tok-1")
	h["x-workspace-id"] = "ws-h"
	rr, body := env.do(t, http.MethodPost, "/api/admin/promote", `{}`, h)
	if rr.Code != http.StatusOK || body["workspace_id"] != "ws-h" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
}

func TestAdminPromoteMissingWorkspace(t *testing.T) {
	env := newTestEnv(t)
	env.tokens.users["tok-1"] = "u1"

	rr, body := env.do(t, http.MethodPost, "/api/admin/promote", `{}`, authHeader("tok-1"))
	if rr.Code != http.StatusBadRequest || body["error"] != "missing_workspaceId" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
}

func TestAdminCreateUser(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("tok-admin", "admin1", store.RoleAdmin, "ws1")

	rr, body := env.do(t, http.MethodPost, "/api/admin/users/create",
		`{"email":"agent@x.co","password":"pw","name":"Agent","role":"agent"}`, authHeader("tok-admin"))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body)
	}
	if body["user_id"] != "new-user-1" {
		t.Fatalf("body = %v", body)
	}
	// Workspace defaults to the requester's.
	if p := env.store.profiles["new-user-1"]; p.WorkspaceID != "ws1" || p.Role != store.RoleAgent {
		t.Fatalf("profile = %+v", p)
	}
}

func TestAdminCreateUserForbiddenForAgents(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("tok-agent", "agent1", store.RoleAgent, "ws1")

	rr, body := env.do(t, http.MethodPost, "/api/admin/users/create",
		`{"email":"x@x.co","password":"pw","name":"X","role":"agent"}`, authHeader("tok-agent"))
	if rr.Code != http.StatusForbidden || body["error"] != "forbidden" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
	if len(env.identity.created) != 0 {
		t.Fatal("user created despite forbidden caller")
	}
}

func TestAdminCreateUserSecretOverride(t *testing.T) {
	env := newTestEnv(t)
	// Token resolves but has no profile; the admin secret bypasses the
	// role check.
	env.tokens.users["tok-x"] = "ux"

	h := authHeader("tok-x")
	h["x-admin-secret"] = testSecret
	rr, _ := env.do(t, http.MethodPost, "/api/admin/users/create",
		`{"email":"y@x.co","password":"pw","name":"Y","role":"admin","workspaceId":"ws2"}`, h)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body)
	}
	if p := env.store.profiles["new-user-1"]; p.Role != store.RoleAdmin || p.WorkspaceID != "ws2" {
		t.Fatalf("profile = %+v", p)
	}
}

func TestAdminCreateUserInvalidRole(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("tok-admin", "admin1", store.RoleAdmin, "ws1")

	rr, body := env.do(t, http.MethodPost, "/api/admin/users/create",
		`{"email":"x@x.co","password":"pw","name":"X","role":"master"}`, authHeader("tok-admin"))
	if rr.Code != http.StatusBadRequest || body["error"] != "invalid_role" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
}

func TestAssignConversation(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("tok-admin", "admin1", store.RoleAdmin, "ws1")
	env.store.conversations["c1"] = store.Conversation{ID: "c1", WorkspaceID: "ws1"}

	rr, body := env.do(t, http.MethodPost, "/api/conversations/c1/assign",
		`{"agentId":"agent9"}`, authHeader("tok-admin"))
	if rr.Code != http.StatusOK || body["ok"] != true {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
	if got := env.store.conversations["c1"].AssignedAgentID; got != "agent9" {
		t.Fatalf("assigned agent = %q", got)
	}
	if len(env.store.assignments) != 1 || env.store.assignments[0].AgentID != "agent9" {
		t.Fatalf("assignment history = %v", env.store.assignments)
	}
	if len(env.events.published) != 1 || env.events.published[0].Meta.Type != events.TypeConversationAssigned {
		t.Fatalf("events = %v", env.events.published)
	}
}

func TestAssignConversationForbiddenForAgents(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("tok-agent", "agent1", store.RoleAgent, "ws1")
	env.store.conversations["c1"] = store.Conversation{ID: "c1", WorkspaceID: "ws1"}

	rr, body := env.do(t, http.MethodPost, "/api/conversations/c1/assign",
		`{"agentId":"agent9"}`, authHeader("tok-agent"))
	if rr.Code != http.StatusForbidden || body["error"] != "forbidden" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
	if got := env.store.conversations["c1"].AssignedAgentID; got != "" {
		t.Fatalf("assignment happened despite 403: %q", got)
	}
}

func TestAssignConversationWorkspaceMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("tok-admin", "admin1", store.RoleAdmin, "ws1")
	env.store.conversations["c2"] = store.Conversation{ID: "c2", WorkspaceID: "ws-other"}

	rr, body := env.do(t, http.MethodPost, "/api/conversations/c2/assign",
		`{"agentId":"agent9"}`, authHeader("tok-admin"))
	if rr.Code != http.StatusForbidden || body["error"] != "workspace_mismatch" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
	if got := env.store.conversations["c2"].AssignedAgentID; got != "" {
		t.Fatalf("assignment happened despite mismatch: %q", got)
	}
	if len(env.store.assignments) != 0 {
		t.Fatalf("history written despite mismatch: %v", env.store.assignments)
	}
}

func TestAssignConversationNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("tok-admin", "admin1", store.RoleAdmin, "ws1")

	rr, body := env.do(t, http.MethodPost, "/api/conversations/nope/assign",
		`{"agentId":"agent9"}`, authHeader("tok-admin"))
	if rr.Code != http.StatusNotFound || body["error"] != "conversation_not_found" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
}

func TestAssignConversationMissingAgent(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("tok-admin", "admin1", store.RoleAdmin, "ws1")
	env.store.conversations["c1"] = store.Conversation{ID: "c1", WorkspaceID: "ws1"}

	rr, body := env.do(t, http.MethodPost, "/api/conversations/c1/assign", `{}`, authHeader("tok-admin"))
	if rr.Code != http.StatusBadRequest || body["error"] != "missing_agentId" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
}

func TestSeedConversation(t *testing.T) {
	env := newTestEnv(t)

	rr, body := env.do(t, http.MethodPost, "/api/dev/seed/conversation", `{"workspaceId":"ws1"}`, nil)
	if rr.Code != http.StatusOK || body["conversation_id"] != "conv-seeded" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}

	rr, body = env.do(t, http.MethodPost, "/api/dev/seed/conversation", `{}`, nil)
	if rr.Code != http.StatusBadRequest || body["error"] != "missing_workspaceId" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
}

func TestInboxWebhookRejectsBadSecret(t *testing.T) {
	env := newTestEnv(t)

	rr, body := env.do(t, http.MethodPost, "/api/inbox/webhook",
		`{"externalMessageId":"m1"}`, map[string]string{relay.SecretHeader: "wrong"})
	if rr.Code != http.StatusUnauthorized || body["error"] != "unauthorized" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
	if len(env.store.logs) != 0 {
		t.Fatalf("rows written for unauthorized caller: %v", env.store.logs)
	}
}

func TestInboxWebhookMissingExternalID(t *testing.T) {
	env := newTestEnv(t)

	rr, body := env.do(t, http.MethodPost, "/api/inbox/webhook",
		`{"workspaceId":"ws1"}`, secretHeader())
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
	invalid := env.store.logsWithStatus(routeInboxWebhook, "invalid")
	if len(invalid) != 1 || invalid[0].Error != "missing externalMessageId" {
		t.Fatalf("invalid rows = %v", invalid)
	}
}

func TestInboxWebhookDedup(t *testing.T) {
	env := newTestEnv(t)
	payload := `{"workspaceId":"ws1","externalMessageId":"wamid.1","provider":"whatsapp"}`

	rr, body := env.do(t, http.MethodPost, "/api/inbox/webhook", payload, secretHeader())
	if rr.Code != http.StatusOK || body["ok"] != true || body["deduped"] != nil {
		t.Fatalf("first delivery: status = %d body = %v", rr.Code, body)
	}

	rr, body = env.do(t, http.MethodPost, "/api/inbox/webhook", payload, secretHeader())
	if rr.Code != http.StatusOK || body["deduped"] != true {
		t.Fatalf("second delivery: status = %d body = %v", rr.Code, body)
	}

	received := env.store.logsWithStatus(routeInboxWebhook, "received")
	duplicate := env.store.logsWithStatus(routeInboxWebhook, "duplicate")
	if len(received) != 1 || len(duplicate) != 1 {
		t.Fatalf("received = %d duplicate = %d", len(received), len(duplicate))
	}
	if received[0].ExternalMessageID != "wamid.1" || received[0].Provider != "whatsapp" {
		t.Fatalf("received row = %+v", received[0])
	}
	// Only the first delivery fans out.
	if len(env.events.published) != 1 || env.events.published[0].Meta.Type != events.TypeMessageReceived {
		t.Fatalf("events = %v", env.events.published)
	}
}

func TestMessageStatusSharesDedupPolicy(t *testing.T) {
	env := newTestEnv(t)
	payload := `{"externalMessageId":"wamid.2","provider":"whatsapp"}`

	rr, _ := env.do(t, http.MethodPost, "/api/inbox/message/status", payload, secretHeader())
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rows := env.store.logsWithStatus(routeMessageStatus, "received"); len(rows) != 1 {
		t.Fatalf("received rows = %v", rows)
	}
	// Same external id on the other route is not a duplicate.
	rr, body := env.do(t, http.MethodPost, "/api/inbox/webhook", payload, secretHeader())
	if rr.Code != http.StatusOK || body["deduped"] != nil {
		t.Fatalf("cross-route dedup: status = %d body = %v", rr.Code, body)
	}
}

func TestInboxWebhookLogFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.failInsertLog = true

	rr, body := env.do(t, http.MethodPost, "/api/inbox/webhook",
		`{"externalMessageId":"m1"}`, secretHeader())
	if rr.Code != http.StatusInternalServerError || body["error"] != "log_failed" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
}

func TestInboxSend(t *testing.T) {
	env := newTestEnv(t)
	env.relay.forwardResult = relay.Result{OK: true, Status: http.StatusOK, Body: "accepted"}
	payload := `{"workspaceId":"ws1","text":"hello"}`

	rr, body := env.do(t, http.MethodPost, "/api/inbox/send", payload, nil)
	if rr.Code != http.StatusOK || body["ok"] != true {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
	if env.relay.forwardURL != "https://hook.example/out" {
		t.Fatalf("forward URL = %q", env.relay.forwardURL)
	}
	if env.relay.forwardSecret != testSecret {
		t.Fatalf("forward secret = %q", env.relay.forwardSecret)
	}
	if string(env.relay.forwardPayload) != payload {
		t.Fatalf("forward payload = %q", env.relay.forwardPayload)
	}
	if rows := env.store.logsWithStatus(routeInboxSend, "forwarded"); len(rows) != 1 {
		t.Fatalf("forwarded rows = %v", env.store.logs)
	}
}

func TestInboxSendTransportFailure(t *testing.T) {
	env := newTestEnv(t)
	env.relay.forwardErr = errors.New("dial tcp: timeout")

	rr, body := env.do(t, http.MethodPost, "/api/inbox/send", `{"text":"x"}`, nil)
	if rr.Code != http.StatusBadGateway || body["error"] != "forward_failed" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
	if rows := env.store.logsWithStatus(routeInboxSend, "error"); len(rows) != 1 {
		t.Fatalf("error rows = %v", env.store.logs)
	}
}

func TestInboxSendMissingOutboxURL(t *testing.T) {
	env := newTestEnv(t)
	env.handler = NewRouter(Deps{
		Store: env.store, Identity: env.identity, Tokens: env.tokens,
		Storage: env.gateway, Relay: env.relay, Avatars: env.avatars,
		Events: env.events, WebhookSecret: testSecret,
	})

	rr, body := env.do(t, http.MethodPost, "/api/inbox/send", `{"text":"x"}`, nil)
	if rr.Code != http.StatusInternalServerError || body["error"] != "server_misconfigured" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
}

func TestMakePing(t *testing.T) {
	env := newTestEnv(t)
	env.relay.pingResult = relay.Result{OK: true, Status: http.StatusOK, Body: `{"authorized":true}`}

	rr, body := env.do(t, http.MethodGet, "/api/make/ping", "", nil)
	if rr.Code != http.StatusOK || body["ok"] != true {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
	if body["status"] != float64(http.StatusOK) {
		t.Fatalf("status field = %v", body["status"])
	}
}

func TestMakePingMissingToken(t *testing.T) {
	env := newTestEnv(t)
	env.handler = NewRouter(Deps{
		Store: env.store, Identity: env.identity, Tokens: env.tokens,
		Storage: env.gateway, Relay: env.relay, Avatars: env.avatars,
		Events: env.events, WebhookSecret: testSecret,
	})

	rr, body := env.do(t, http.MethodGet, "/api/make/ping", "", nil)
	if rr.Code != http.StatusInternalServerError || body["error"] != "server_misconfigured" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
}

func TestAvatarSyncStoresImageAndContact(t *testing.T) {
	env := newTestEnv(t)
	env.avatars.img = avatar.Image{Data: []byte("jpeg"), ContentType: "image/jpeg"}

	rr, body := env.do(t, http.MethodPost, "/api/inbox/avatar/sync",
		`{"workspaceId":"ws1","contactPhone":"5511999"}`, secretHeader())
	if rr.Code != http.StatusOK || body["ok"] != true {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
	wantPath := "avatars/ws1/contacts/5511999.jpg"
	if body["path"] != wantPath {
		t.Fatalf("path = %v", body["path"])
	}
	if body["signedUrl"] != "https://signed.example/"+wantPath {
		t.Fatalf("signedUrl = %v", body["signedUrl"])
	}
	if len(env.gateway.uploads) != 1 || env.gateway.uploads[0].Bucket != "avatars" {
		t.Fatalf("uploads = %v", env.gateway.uploads)
	}
	if len(env.store.contacts) != 1 || env.store.contacts[0].AvatarPath != wantPath {
		t.Fatalf("contacts = %+v", env.store.contacts)
	}
	if rows := env.store.logsWithStatus(routeAvatarSync, "stored"); len(rows) != 1 {
		t.Fatalf("stored rows = %v", env.store.logs)
	}
}

func TestAvatarSyncUpdatesExistingContact(t *testing.T) {
	env := newTestEnv(t)
	env.avatars.img = avatar.Image{Data: []byte("jpeg"), ContentType: "image/jpeg"}
	env.store.contacts = append(env.store.contacts, &fakeContact{
		ID: "contact-old", WorkspaceID: "ws1", Phone: "5511999",
	})

	rr, _ := env.do(t, http.MethodPost, "/api/inbox/avatar/sync",
		`{"workspaceId":"ws1","contactPhone":"5511999"}`, secretHeader())
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body)
	}
	if len(env.store.contacts) != 1 {
		t.Fatalf("contact duplicated: %+v", env.store.contacts)
	}
	if env.store.contacts[0].AvatarPath == "" {
		t.Fatal("existing contact not updated")
	}
}

func TestAvatarSyncSkippedWhenNoAvatar(t *testing.T) {
	env := newTestEnv(t)
	env.avatars.err = avatar.ErrNoAvatar

	rr, body := env.do(t, http.MethodPost, "/api/inbox/avatar/sync",
		`{"workspaceId":"ws1","contactPhone":"5511999"}`, secretHeader())
	if rr.Code != http.StatusOK || body["skipped"] != true {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
	if len(env.gateway.uploads) != 0 {
		t.Fatalf("upload happened despite skip: %v", env.gateway.uploads)
	}
	if rows := env.store.logsWithStatus(routeAvatarSync, "skipped"); len(rows) != 1 {
		t.Fatalf("skipped rows = %v", env.store.logs)
	}
}

func TestAvatarSyncDownloadFailed(t *testing.T) {
	env := newTestEnv(t)
	env.avatars.err = &avatar.StatusError{Status: http.StatusNotFound}

	rr, body := env.do(t, http.MethodPost, "/api/inbox/avatar/sync",
		`{"workspaceId":"ws1","contactPhone":"5511999","avatarUrl":"https://x/a.jpg"}`, secretHeader())
	if rr.Code != http.StatusBadGateway || body["error"] != "download_failed" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
}

func TestAvatarSyncAuthAndValidation(t *testing.T) {
	env := newTestEnv(t)

	rr, body := env.do(t, http.MethodPost, "/api/inbox/avatar/sync",
		`{"workspaceId":"ws1","contactPhone":"5511999"}`, map[string]string{relay.SecretHeader: "wrong"})
	if rr.Code != http.StatusUnauthorized || body["error"] != "unauthorized" {
		t.Fatalf("bad secret: status = %d body = %v", rr.Code, body)
	}

	rr, body = env.do(t, http.MethodPost, "/api/inbox/avatar/sync",
		`{"workspaceId":"ws1"}`, secretHeader())
	if rr.Code != http.StatusBadRequest || body["error"] != "missing_fields" {
		t.Fatalf("missing phone: status = %d body = %v", rr.Code, body)
	}
}

func TestStorageTestUpload(t *testing.T) {
	env := newTestEnv(t)

	rr, body := env.do(t, http.MethodPost, "/api/storage/test-upload", `{}`, nil)
	if rr.Code != http.StatusOK || body["ok"] != true {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
	if len(env.gateway.uploads) != 2 {
		t.Fatalf("uploads = %v", env.gateway.uploads)
	}
	att, av := env.gateway.uploads[0], env.gateway.uploads[1]
	if att.Bucket != "attachments" || !strings.HasSuffix(att.Path, "/hello.txt") {
		t.Fatalf("attachment upload = %+v", att)
	}
	if av.Bucket != "avatars" || !strings.HasSuffix(av.Path, ".jpg") {
		t.Fatalf("avatar upload = %+v", av)
	}
	if av.ContentType != "image/png" {
		t.Fatalf("avatar content type = %q", av.ContentType)
	}
	if env.gateway.ensured == 0 {
		t.Fatal("buckets not ensured")
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr, _ := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}
