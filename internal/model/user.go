package model

import (
	"math"
	"time"
)

type Relationship int

const (
	RelationshipStranger Relationship = iota
	RelationshipFriend
	RelationshipSelf
	RelationshipBlocked
)

func (r Relationship) String() string {
	switch r {
	case RelationshipStranger:
		return "stranger"
	case RelationshipFriend:
		return "friend"
	case RelationshipSelf:
		return "self"
	case RelationshipBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Position is a geographic fix with the time it was taken.
type Position struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	At        time.Time `json:"at"`
}

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance to other in kilometres.
func (p Position) DistanceKm(other Position) float64 {
	lat1 := p.Latitude * math.Pi / 180
	lat2 := other.Latitude * math.Pi / 180
	dLat := (other.Latitude - p.Latitude) * math.Pi / 180
	dLon := (other.Longitude - p.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func (p Position) Equal(other Position) bool {
	return p.Latitude == other.Latitude &&
		p.Longitude == other.Longitude &&
		p.At.Equal(other.At)
}

// UserSnapshot is the immutable transfer view of a user, produced by the
// store and the gateway and consumed by the cache.
type UserSnapshot struct {
	ID            int64        `json:"id"`
	Name          string       `json:"name"`
	Phone         string       `json:"phone"`
	Email         string       `json:"email"`
	Position      Position     `json:"position"`
	LocationLabel string       `json:"locationLabel"`
	Image         []byte       `json:"-"`
	LastSeen      time.Time    `json:"lastSeen"`
	Visible       bool         `json:"visible"`
	Relationship  Relationship `json:"relationship"`
}
