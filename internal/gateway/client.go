// Package gateway talks to the remote location-sharing server. Every
// operation is a form POST returning a JSON envelope; the session cookie
// obtained by Auth rides along automatically.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"

	"uk.co.dudmesh.waypoint/internal/boot"
	"uk.co.dudmesh.waypoint/internal/model"
)

var ErrorRequestFailed = errors.New("gateway request failed")
var ErrorNotAuthenticated = errors.New("not authenticated")

const requestTimeout = 30 * time.Second

type client struct {
	baseURL string
	http    *http.Client
}

func New(config *boot.Config) (*client, error) {
	if config.GatewayURL == "" {
		return nil, fmt.Errorf("gateway url not configured")
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	return &client{
		baseURL: strings.TrimSuffix(config.GatewayURL, "/"),
		http: &http.Client{
			Jar:     jar,
			Timeout: requestTimeout,
		},
	}, nil
}

// Auth establishes the session. The token from configuration is presented
// as a signed assertion so it never travels as a bare credential.
func (c *client) Auth(selfID int64, selfName, token string) error {
	assertion := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  strconv.FormatInt(selfID, 10),
		"name": selfName,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(time.Minute).Unix(),
	})
	signed, err := assertion.SignedString([]byte(token))
	if err != nil {
		return fmt.Errorf("signing auth assertion: %w", err)
	}

	_, err = c.post("/auth", url.Values{
		"id":        {strconv.FormatInt(selfID, 10)},
		"assertion": {signed},
	})
	if err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}
	return nil
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *client) post(endpoint string, form url.Values) (json.RawMessage, error) {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Request-ID", model.CreateID())

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting %s: %w", endpoint, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized {
		return nil, ErrorNotAuthenticated
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("posting %s: status %d: %w", endpoint, res.StatusCode, ErrorRequestFailed)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", endpoint, err)
	}

	env := envelope{}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	if env.Status != "ok" {
		return nil, fmt.Errorf("%s: %s: %w", endpoint, env.Message, ErrorRequestFailed)
	}
	return env.Data, nil
}

func (c *client) postDecoded(endpoint string, form url.Values, out any) error {
	data, err := c.post(endpoint, form)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s payload: %w", endpoint, err)
	}
	return nil
}

func idForm(key string, id int64) url.Values {
	return url.Values{key: {strconv.FormatInt(id, 10)}}
}

// --- wire types ----------------------------------------------------------

type wireUser struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Phone         string  `json:"phone"`
	Email         string  `json:"email"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	PositionAt    int64   `json:"positionAt"`
	LocationLabel string  `json:"locationLabel"`
	LastSeen      int64   `json:"lastSeen"`
	Visible       bool    `json:"visible"`
}

func (w wireUser) toSnapshot() model.UserSnapshot {
	return model.UserSnapshot{
		ID:    w.ID,
		Name:  w.Name,
		Phone: w.Phone,
		Email: w.Email,
		Position: model.Position{
			Latitude:  w.Latitude,
			Longitude: w.Longitude,
			At:        unixTime(w.PositionAt),
		},
		LocationLabel: w.LocationLabel,
		LastSeen:      unixTime(w.LastSeen),
		Visible:       w.Visible,
	}
}

type wireEvent struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Creator        *wireUser `json:"creator"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	LocationLabel  string    `json:"locationLabel"`
	StartsAt       int64     `json:"startsAt"`
	EndsAt         int64     `json:"endsAt"`
	ParticipantIDs []int64   `json:"participantIds"`
	Visible        bool      `json:"visible"`
}

func (w wireEvent) toSnapshot() model.EventSnapshot {
	snap := model.EventSnapshot{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		Position: model.Position{
			Latitude:  w.Latitude,
			Longitude: w.Longitude,
		},
		LocationLabel:  w.LocationLabel,
		StartsAt:       unixTime(w.StartsAt),
		EndsAt:         unixTime(w.EndsAt),
		ParticipantIDs: w.ParticipantIDs,
		Visible:        w.Visible,
	}
	if w.Creator != nil {
		creator := w.Creator.toSnapshot()
		snap.Creator = &creator
	}
	return snap
}

type wireInvitation struct {
	ID        int64      `json:"id"`
	Type      string     `json:"type"`
	User      *wireUser  `json:"user"`
	Event     *wireEvent `json:"event"`
	CreatedAt int64      `json:"createdAt"`
}

func (w wireInvitation) toSnapshot() (model.InvitationSnapshot, error) {
	snap := model.InvitationSnapshot{
		ID:        model.NoID,
		Status:    model.InvitationUnread,
		CreatedAt: unixTime(w.CreatedAt),
	}
	switch w.Type {
	case "friend":
		snap.Type = model.FriendInvitation
	case "accepted":
		snap.Type = model.AcceptedFriendInvitation
	case "event":
		snap.Type = model.EventInvitation
	default:
		return model.InvitationSnapshot{}, fmt.Errorf("unknown invitation type %q: %w", w.Type, ErrorRequestFailed)
	}
	if w.User != nil {
		user := w.User.toSnapshot()
		snap.User = &user
	}
	if w.Event != nil {
		event := w.Event.toSnapshot()
		snap.Event = &event
	}
	return snap, nil
}

func unixTime(seconds int64) time.Time {
	if seconds == 0 {
		return time.Time{}
	}
	return time.Unix(seconds, 0).UTC()
}

// --- users ---------------------------------------------------------------

func (c *client) UserInfo(id int64) (model.UserSnapshot, error) {
	wire := wireUser{}
	if err := c.postDecoded("/getUserInfo", idForm("userId", id), &wire); err != nil {
		return model.UserSnapshot{}, err
	}
	snap := wire.toSnapshot()
	snap.ID = id
	return snap, nil
}

func (c *client) ProfilePicture(id int64) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/getProfilePicture",
		strings.NewReader(idForm("userId", id).Encode()))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Request-ID", model.CreateID())

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching profile picture: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching profile picture: status %d: %w", res.StatusCode, ErrorRequestFailed)
	}
	return io.ReadAll(res.Body)
}

func (c *client) FriendIDs() ([]int64, error) {
	ids := []int64{}
	if err := c.postDecoded("/getFriendsIds", url.Values{}, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (c *client) FriendPositions() ([]model.UserSnapshot, error) {
	wires := []wireUser{}
	if err := c.postDecoded("/listFriendsPos", url.Values{}, &wires); err != nil {
		return nil, err
	}
	positions := make([]model.UserSnapshot, 0, len(wires))
	for _, wire := range wires {
		positions = append(positions, wire.toSnapshot())
	}
	return positions, nil
}

func (c *client) FindUsers(text string) ([]model.UserSnapshot, error) {
	wires := []wireUser{}
	if err := c.postDecoded("/findUsers", url.Values{"text": {text}}, &wires); err != nil {
		return nil, err
	}
	found := make([]model.UserSnapshot, 0, len(wires))
	for _, wire := range wires {
		found = append(found, wire.toSnapshot())
	}
	return found, nil
}

func (c *client) UpdatePosition(position model.Position) error {
	_, err := c.post("/updatePos", url.Values{
		"latitude":  {strconv.FormatFloat(position.Latitude, 'f', -1, 64)},
		"longitude": {strconv.FormatFloat(position.Longitude, 'f', -1, 64)},
	})
	return err
}

// --- friendship ----------------------------------------------------------

func (c *client) InviteFriend(id int64) error {
	_, err := c.post("/inviteFriend", idForm("userId", id))
	return err
}

func (c *client) AcceptInvitation(id int64) (model.UserSnapshot, error) {
	wire := wireUser{}
	if err := c.postDecoded("/acceptInvitation", idForm("userId", id), &wire); err != nil {
		return model.UserSnapshot{}, err
	}
	return wire.toSnapshot(), nil
}

func (c *client) DeclineInvitation(id int64) error {
	_, err := c.post("/declineInvitation", idForm("userId", id))
	return err
}

func (c *client) AckAcceptedInvitation(id int64) error {
	_, err := c.post("/ackAcceptedInvitation", idForm("userId", id))
	return err
}

func (c *client) AckRemovedFriend(id int64) error {
	_, err := c.post("/ackRemovedFriend", idForm("userId", id))
	return err
}

func (c *client) RemoveFriend(id int64) error {
	_, err := c.post("/removeFriend", idForm("userId", id))
	return err
}

func (c *client) BlockFriend(id int64) error {
	_, err := c.post("/blockFriend", idForm("userId", id))
	return err
}

func (c *client) UnblockFriend(id int64) error {
	_, err := c.post("/unblockFriend", idForm("userId", id))
	return err
}

// --- invitations ---------------------------------------------------------

type wireInvitationBag struct {
	Invitations      []wireInvitation `json:"invitations"`
	RemovedFriendIDs []int64          `json:"removedFriendIds"`
}

func (c *client) Invitations() (model.InvitationBag, error) {
	wire := wireInvitationBag{}
	if err := c.postDecoded("/getInvitations", url.Values{}, &wire); err != nil {
		return model.InvitationBag{}, err
	}
	bag := model.InvitationBag{
		RemovedFriendIDs: wire.RemovedFriendIDs,
	}
	for _, w := range wire.Invitations {
		snap, err := w.toSnapshot()
		if err != nil {
			return model.InvitationBag{}, err
		}
		bag.Invitations = append(bag.Invitations, snap)
	}
	return bag, nil
}

func (c *client) EventInvitations() ([]model.InvitationSnapshot, error) {
	wires := []wireInvitation{}
	if err := c.postDecoded("/getEventInvitations", url.Values{}, &wires); err != nil {
		return nil, err
	}
	invitations := make([]model.InvitationSnapshot, 0, len(wires))
	for _, w := range wires {
		snap, err := w.toSnapshot()
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, snap)
	}
	return invitations, nil
}

func (c *client) AckEventInvitation(eventID int64) error {
	_, err := c.post("/ackEventInvitation", idForm("eventId", eventID))
	return err
}

// --- events --------------------------------------------------------------

func (c *client) EventInfo(id int64) (model.EventSnapshot, error) {
	wire := wireEvent{}
	if err := c.postDecoded("/getEventInfo", idForm("eventId", id), &wire); err != nil {
		return model.EventSnapshot{}, err
	}
	snap := wire.toSnapshot()
	snap.ID = id
	return snap, nil
}

func (c *client) PublicEvents(latitude, longitude, radiusKm float64) ([]int64, error) {
	ids := []int64{}
	err := c.postDecoded("/getPublicEvents", url.Values{
		"latitude":  {strconv.FormatFloat(latitude, 'f', -1, 64)},
		"longitude": {strconv.FormatFloat(longitude, 'f', -1, 64)},
		"radiusKm":  {strconv.FormatFloat(radiusKm, 'f', -1, 64)},
	}, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func eventForm(snap model.EventSnapshot) url.Values {
	return url.Values{
		"name":          {snap.Name},
		"description":   {snap.Description},
		"latitude":      {strconv.FormatFloat(snap.Position.Latitude, 'f', -1, 64)},
		"longitude":     {strconv.FormatFloat(snap.Position.Longitude, 'f', -1, 64)},
		"locationLabel": {snap.LocationLabel},
		"startsAt":      {strconv.FormatInt(snap.StartsAt.Unix(), 10)},
		"endsAt":        {strconv.FormatInt(snap.EndsAt.Unix(), 10)},
	}
}

func (c *client) CreateEvent(snap model.EventSnapshot) (int64, error) {
	created := struct {
		ID int64 `json:"id"`
	}{}
	if err := c.postDecoded("/createEvent", eventForm(snap), &created); err != nil {
		return model.NoID, err
	}
	return created.ID, nil
}

func (c *client) UpdateEvent(snap model.EventSnapshot) error {
	form := eventForm(snap)
	form.Set("eventId", strconv.FormatInt(snap.ID, 10))
	_, err := c.post("/updateEvent", form)
	return err
}

func (c *client) JoinEvent(id int64) error {
	_, err := c.post("/joinEvent", idForm("eventId", id))
	return err
}

func (c *client) LeaveEvent(id int64) error {
	_, err := c.post("/leaveEvent", idForm("eventId", id))
	return err
}

func (c *client) InviteUsersToEvent(eventID int64, userIDs []int64) error {
	ids := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	form := idForm("eventId", eventID)
	form.Set("userIds", strings.Join(ids, ","))
	_, err := c.post("/inviteUsersToEvent", form)
	return err
}
