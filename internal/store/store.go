// Package store persists the cache's entities in a per-identity sqlite
// database. Each agent identity owns one database file under the data
// directory.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"uk.co.dudmesh.waypoint/internal/boot"
	"uk.co.dudmesh.waypoint/internal/model"
)

type store struct {
	selfID int64
	db     *sqlx.DB
}

func New(selfID int64, config *boot.Config) (*store, error) {
	if selfID <= 0 {
		return nil, model.ErrorInvalidID
	}
	dbName := path.Join(config.DataDirectory, fmt.Sprintf("%d.db", selfID))

	isCreating := false
	_, err := os.Stat(dbName)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			isCreating = true
		}
	}

	db, err := sqlx.Connect("sqlite3", "file:"+dbName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	datastore := &store{selfID, db}
	if isCreating {
		err = datastore.createTables()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating tables: %w", err)
		}
	}

	return datastore, nil
}

func (d *store) Close() error {
	return d.db.Close()
}

func (d *store) createTables() error {
	_, err := d.db.Exec(`create table user(
		ID            integer not null primary key,
		Name          text not null,
		Phone         text not null default '',
		Email         text not null default '',
		Latitude      real not null default 0,
		Longitude     real not null default 0,
		PositionAt    DATETIME null,
		LocationLabel text not null default '',
		Image         blob null,
		LastSeen      DATETIME null,
		Visible       tinyint not null default 0,
		Relationship  tinyint not null default 0
	)`)
	if err != nil {
		return fmt.Errorf("creating user table: %w", err)
	}

	_, err = d.db.Exec(`create table event(
		ID             integer not null primary key,
		Name           text not null,
		Description    text not null default '',
		CreatorID      integer not null,
		Latitude       real not null default 0,
		Longitude      real not null default 0,
		PositionAt     DATETIME null,
		LocationLabel  text not null default '',
		StartsAt       DATETIME not null,
		EndsAt         DATETIME not null,
		ParticipantIDs text not null default '[]',
		Visible        tinyint not null default 0
	)`)
	if err != nil {
		return fmt.Errorf("creating event table: %w", err)
	}

	_, err = d.db.Exec(`create table filter(
		ID        integer not null primary key,
		Name      text not null,
		Active    tinyint not null default 0,
		FriendIDs text not null default '[]'
	)`)
	if err != nil {
		return fmt.Errorf("creating filter table: %w", err)
	}

	_, err = d.db.Exec(`create table invitation(
		ID        integer not null primary key autoincrement,
		Type      tinyint not null,
		Status    tinyint not null default 0,
		UserID    integer null,
		EventID   integer null,
		CreatedAt DATETIME not null
	)`)
	if err != nil {
		return fmt.Errorf("creating invitation table: %w", err)
	}

	_, err = d.db.Exec(`create table pending_friend(
		UserID integer not null primary key
	)`)
	if err != nil {
		return fmt.Errorf("creating pending_friend table: %w", err)
	}

	return nil
}

// --- users ---------------------------------------------------------------

type userRow struct {
	ID            int64        `db:"ID"`
	Name          string       `db:"Name"`
	Phone         string       `db:"Phone"`
	Email         string       `db:"Email"`
	Latitude      float64      `db:"Latitude"`
	Longitude     float64      `db:"Longitude"`
	PositionAt    sql.NullTime `db:"PositionAt"`
	LocationLabel string       `db:"LocationLabel"`
	Image         []byte       `db:"Image"`
	LastSeen      sql.NullTime `db:"LastSeen"`
	Visible       bool         `db:"Visible"`
	Relationship  int          `db:"Relationship"`
}

func userToRow(snap model.UserSnapshot) userRow {
	return userRow{
		ID:            snap.ID,
		Name:          snap.Name,
		Phone:         snap.Phone,
		Email:         snap.Email,
		Latitude:      snap.Position.Latitude,
		Longitude:     snap.Position.Longitude,
		PositionAt:    nullTime(snap.Position.At),
		LocationLabel: snap.LocationLabel,
		Image:         snap.Image,
		LastSeen:      nullTime(snap.LastSeen),
		Visible:       snap.Visible,
		Relationship:  int(snap.Relationship),
	}
}

func (r userRow) toSnapshot() model.UserSnapshot {
	return model.UserSnapshot{
		ID:    r.ID,
		Name:  r.Name,
		Phone: r.Phone,
		Email: r.Email,
		Position: model.Position{
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
			At:        r.PositionAt.Time,
		},
		LocationLabel: r.LocationLabel,
		Image:         r.Image,
		LastSeen:      r.LastSeen.Time,
		Visible:       r.Visible,
		Relationship:  model.Relationship(r.Relationship),
	}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (d *store) AllUsers() ([]model.UserSnapshot, error) {
	rows := []userRow{}
	err := d.db.Select(&rows, `select * from user order by ID`)
	if err != nil {
		return nil, fmt.Errorf("fetching users: %w", err)
	}
	users := make([]model.UserSnapshot, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toSnapshot())
	}
	return users, nil
}

func (d *store) User(id int64) (model.UserSnapshot, error) {
	row := userRow{}
	err := d.db.Get(&row, `select * from user where ID = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.UserSnapshot{}, model.ErrorUserNotFound
		}
		return model.UserSnapshot{}, fmt.Errorf("fetching user: %w", err)
	}
	return row.toSnapshot(), nil
}

func (d *store) UpsertUser(snap model.UserSnapshot) error {
	_, err := d.db.NamedExec(`insert or replace into user
		(ID, Name, Phone, Email, Latitude, Longitude, PositionAt, LocationLabel, Image, LastSeen, Visible, Relationship)
		values(:ID, :Name, :Phone, :Email, :Latitude, :Longitude, :PositionAt, :LocationLabel, :Image, :LastSeen, :Visible, :Relationship)`,
		userToRow(snap))
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

func (d *store) DeleteUser(id int64) error {
	_, err := d.db.Exec(`delete from user where ID = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return nil
}

// --- events --------------------------------------------------------------

type eventRow struct {
	ID             int64        `db:"ID"`
	Name           string       `db:"Name"`
	Description    string       `db:"Description"`
	CreatorID      int64        `db:"CreatorID"`
	Latitude       float64      `db:"Latitude"`
	Longitude      float64      `db:"Longitude"`
	PositionAt     sql.NullTime `db:"PositionAt"`
	LocationLabel  string       `db:"LocationLabel"`
	StartsAt       time.Time    `db:"StartsAt"`
	EndsAt         time.Time    `db:"EndsAt"`
	ParticipantIDs string       `db:"ParticipantIDs"`
	Visible        bool         `db:"Visible"`
}

func eventToRow(snap model.EventSnapshot) (eventRow, error) {
	if snap.Creator == nil {
		return eventRow{}, model.ErrorUserNotFound
	}
	participants, err := json.Marshal(snap.ParticipantIDs)
	if err != nil {
		return eventRow{}, fmt.Errorf("encoding participant ids: %w", err)
	}
	return eventRow{
		ID:             snap.ID,
		Name:           snap.Name,
		Description:    snap.Description,
		CreatorID:      snap.Creator.ID,
		Latitude:       snap.Position.Latitude,
		Longitude:      snap.Position.Longitude,
		PositionAt:     nullTime(snap.Position.At),
		LocationLabel:  snap.LocationLabel,
		StartsAt:       snap.StartsAt,
		EndsAt:         snap.EndsAt,
		ParticipantIDs: string(participants),
		Visible:        snap.Visible,
	}, nil
}

func (d *store) eventFromRow(row eventRow) (model.EventSnapshot, error) {
	participants := []int64{}
	if err := json.Unmarshal([]byte(row.ParticipantIDs), &participants); err != nil {
		return model.EventSnapshot{}, fmt.Errorf("decoding participant ids: %w", err)
	}
	snap := model.EventSnapshot{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		Position: model.Position{
			Latitude:  row.Latitude,
			Longitude: row.Longitude,
			At:        row.PositionAt.Time,
		},
		LocationLabel:  row.LocationLabel,
		StartsAt:       row.StartsAt,
		EndsAt:         row.EndsAt,
		ParticipantIDs: participants,
		Visible:        row.Visible,
	}
	creator, err := d.User(row.CreatorID)
	if err == nil {
		snap.Creator = &creator
	} else if !errors.Is(err, model.ErrorUserNotFound) {
		return model.EventSnapshot{}, err
	}
	return snap, nil
}

func (d *store) AllEvents() ([]model.EventSnapshot, error) {
	rows := []eventRow{}
	err := d.db.Select(&rows, `select * from event order by ID`)
	if err != nil {
		return nil, fmt.Errorf("fetching events: %w", err)
	}
	events := make([]model.EventSnapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := d.eventFromRow(row)
		if err != nil {
			return nil, err
		}
		events = append(events, snap)
	}
	return events, nil
}

func (d *store) UpsertEvent(snap model.EventSnapshot) error {
	row, err := eventToRow(snap)
	if err != nil {
		return err
	}
	_, err = d.db.NamedExec(`insert or replace into event
		(ID, Name, Description, CreatorID, Latitude, Longitude, PositionAt, LocationLabel, StartsAt, EndsAt, ParticipantIDs, Visible)
		values(:ID, :Name, :Description, :CreatorID, :Latitude, :Longitude, :PositionAt, :LocationLabel, :StartsAt, :EndsAt, :ParticipantIDs, :Visible)`,
		row)
	if err != nil {
		return fmt.Errorf("upserting event: %w", err)
	}
	return nil
}

func (d *store) DeleteEvent(id int64) error {
	_, err := d.db.Exec(`delete from event where ID = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting event: %w", err)
	}
	return nil
}

// --- filters -------------------------------------------------------------

type filterRow struct {
	ID        int64  `db:"ID"`
	Name      string `db:"Name"`
	Active    bool   `db:"Active"`
	FriendIDs string `db:"FriendIDs"`
}

func (d *store) AllFilters() ([]model.FilterSnapshot, error) {
	rows := []filterRow{}
	err := d.db.Select(&rows, `select * from filter order by ID`)
	if err != nil {
		return nil, fmt.Errorf("fetching filters: %w", err)
	}
	filters := make([]model.FilterSnapshot, 0, len(rows))
	for _, row := range rows {
		friendIDs := []int64{}
		if err := json.Unmarshal([]byte(row.FriendIDs), &friendIDs); err != nil {
			return nil, fmt.Errorf("decoding filter friend ids: %w", err)
		}
		filters = append(filters, model.FilterSnapshot{
			ID:        row.ID,
			Name:      row.Name,
			Active:    row.Active,
			FriendIDs: friendIDs,
		})
	}
	return filters, nil
}

func (d *store) UpsertFilter(snap model.FilterSnapshot) error {
	friendIDs, err := json.Marshal(snap.FriendIDs)
	if err != nil {
		return fmt.Errorf("encoding filter friend ids: %w", err)
	}
	_, err = d.db.NamedExec(`insert or replace into filter
		(ID, Name, Active, FriendIDs)
		values(:ID, :Name, :Active, :FriendIDs)`,
		filterRow{
			ID:        snap.ID,
			Name:      snap.Name,
			Active:    snap.Active,
			FriendIDs: string(friendIDs),
		})
	if err != nil {
		return fmt.Errorf("upserting filter: %w", err)
	}
	return nil
}

func (d *store) DeleteFilter(id int64) error {
	_, err := d.db.Exec(`delete from filter where ID = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting filter: %w", err)
	}
	return nil
}

// --- invitations ---------------------------------------------------------

type invitationRow struct {
	ID        int64         `db:"ID"`
	Type      int           `db:"Type"`
	Status    int           `db:"Status"`
	UserID    sql.NullInt64 `db:"UserID"`
	EventID   sql.NullInt64 `db:"EventID"`
	CreatedAt time.Time     `db:"CreatedAt"`
}

func (d *store) invitationFromRow(row invitationRow) (model.InvitationSnapshot, error) {
	snap := model.InvitationSnapshot{
		ID:        row.ID,
		Type:      model.InvitationType(row.Type),
		Status:    model.InvitationStatus(row.Status),
		CreatedAt: row.CreatedAt,
	}
	if row.UserID.Valid {
		user, err := d.User(row.UserID.Int64)
		if err == nil {
			snap.User = &user
		} else if !errors.Is(err, model.ErrorUserNotFound) {
			return model.InvitationSnapshot{}, err
		}
	}
	if row.EventID.Valid {
		ev := eventRow{}
		err := d.db.Get(&ev, `select * from event where ID = ?`, row.EventID.Int64)
		if err == nil {
			event, err := d.eventFromRow(ev)
			if err != nil {
				return model.InvitationSnapshot{}, err
			}
			snap.Event = &event
		} else if !errors.Is(err, sql.ErrNoRows) {
			return model.InvitationSnapshot{}, fmt.Errorf("fetching invitation event: %w", err)
		}
	}
	return snap, nil
}

func (d *store) AllInvitations() ([]model.InvitationSnapshot, error) {
	rows := []invitationRow{}
	err := d.db.Select(&rows, `select * from invitation order by ID`)
	if err != nil {
		return nil, fmt.Errorf("fetching invitations: %w", err)
	}
	invitations := make([]model.InvitationSnapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := d.invitationFromRow(row)
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, snap)
	}
	return invitations, nil
}

// AddInvitation records a freshly pulled invitation and assigns it a local
// id. An invitation with the same type, references and timestamp has been
// pulled before; the caller gets model.AlreadyPersistedID and must not
// create a duplicate.
func (d *store) AddInvitation(snap model.InvitationSnapshot) (int64, error) {
	var userID, eventID sql.NullInt64
	if snap.User != nil {
		userID = sql.NullInt64{Int64: snap.User.ID, Valid: true}
	}
	if snap.Event != nil {
		eventID = sql.NullInt64{Int64: snap.Event.ID, Valid: true}
	}

	existing := int64(0)
	err := d.db.Get(&existing, `select count(*) from invitation
		where Type = ? and UserID is ? and EventID is ? and CreatedAt = ?`,
		int(snap.Type), userID, eventID, snap.CreatedAt)
	if err != nil {
		return model.NoID, fmt.Errorf("checking invitation: %w", err)
	}
	if existing > 0 {
		return model.AlreadyPersistedID, nil
	}

	res, err := d.db.Exec(`insert into invitation
		(Type, Status, UserID, EventID, CreatedAt)
		values(?, ?, ?, ?, ?)`,
		int(snap.Type), int(snap.Status), userID, eventID, snap.CreatedAt)
	if err != nil {
		return model.NoID, fmt.Errorf("inserting invitation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.NoID, fmt.Errorf("getting invitation id: %w", err)
	}
	return id, nil
}

func (d *store) UpsertInvitation(snap model.InvitationSnapshot) error {
	var userID, eventID sql.NullInt64
	if snap.User != nil {
		userID = sql.NullInt64{Int64: snap.User.ID, Valid: true}
	}
	if snap.Event != nil {
		eventID = sql.NullInt64{Int64: snap.Event.ID, Valid: true}
	}
	_, err := d.db.NamedExec(`insert or replace into invitation
		(ID, Type, Status, UserID, EventID, CreatedAt)
		values(:ID, :Type, :Status, :UserID, :EventID, :CreatedAt)`,
		invitationRow{
			ID:        snap.ID,
			Type:      int(snap.Type),
			Status:    int(snap.Status),
			UserID:    userID,
			EventID:   eventID,
			CreatedAt: snap.CreatedAt,
		})
	if err != nil {
		return fmt.Errorf("upserting invitation: %w", err)
	}
	return nil
}

// --- pending friends -----------------------------------------------------

func (d *store) AddPendingFriend(id int64) error {
	_, err := d.db.Exec(`insert or ignore into pending_friend(UserID) values(?)`, id)
	if err != nil {
		return fmt.Errorf("adding pending friend: %w", err)
	}
	return nil
}

func (d *store) DeletePendingFriend(id int64) error {
	_, err := d.db.Exec(`delete from pending_friend where UserID = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting pending friend: %w", err)
	}
	return nil
}

func (d *store) PendingFriends() ([]int64, error) {
	ids := []int64{}
	err := d.db.Select(&ids, `select UserID from pending_friend order by UserID`)
	if err != nil {
		return nil, fmt.Errorf("fetching pending friends: %w", err)
	}
	return ids, nil
}
