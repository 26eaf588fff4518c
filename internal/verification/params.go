package verification

import (
	"net/url"
	"strings"

	"gatekeeper/internal/collector"
)

// Params are the identity and community context of an attempt, as carried in
// the verification link's query string.
type Params struct {
	ID        string
	Guild     string
	GuildName string
	GuildIcon string
}

// ParamsFromQuery reads id, guild, guild_name and guild_icon.
func ParamsFromQuery(q url.Values) Params {
	return Params{
		ID:        strings.TrimSpace(q.Get("id")),
		Guild:     strings.TrimSpace(q.Get("guild")),
		GuildName: q.Get("guild_name"),
		GuildIcon: q.Get("guild_icon"),
	}
}

// Identity converts the params into collector identity hints.
func (p Params) Identity() collector.Identity {
	return collector.Identity{ID: p.ID, Guild: p.Guild, GuildName: p.GuildName}
}
