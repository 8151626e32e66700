package domain

import (
	"fmt"
	"strconv"
)

// SteamID is the 64-bit identifier minted by Steam. Postgres has no unsigned
// 64-bit type, so it is stored in a BIGINT column by bit reinterpretation.
type SteamID uint64

func ParseSteamID(s string) (SteamID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse steam id %q: %w", s, err)
	}
	return SteamID(v), nil
}

// SteamIDFromDB reverses DB.
func SteamIDFromDB(v int64) SteamID { return SteamID(uint64(v)) }

// DB returns the value stored in the steam_id column.
func (id SteamID) DB() int64 { return int64(uint64(id)) }

func (id SteamID) String() string { return strconv.FormatUint(uint64(id), 10) }

type User struct {
	ID      int32   `json:"id"`
	SteamID SteamID `json:"steamId,string"`
}
