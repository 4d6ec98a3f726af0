package format

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tibiabot/internal/tibia"
)

func i64(v int64) *int64 { return &v }

func fieldNames(p Payload) []string {
	out := make([]string, 0, len(p.Fields))
	for _, f := range p.Fields {
		out = append(out, f.Name)
	}
	return out
}

func TestBuildCreature(t *testing.T) {
	d := tibia.Details{
		Name:        "Dragon Lord",
		HitPoints:   i64(1900),
		Experience:  i64(2100),
		Description: "A mighty dragon.",
		Loot:        []string{"gold coin", "dragon ham", "royal helmet", "fire sword", "dragon scale mail"},
		ImageURL:    "https://img/Dragon_Lord.gif",
		Source:      tibia.SourcePrimaryAPI,
	}
	p := Build(d, tibia.KindCreature)

	assert.Equal(t, "🦎 Daily Boosted Creature", p.Title)
	assert.Equal(t, "**Dragon Lord** is today's boosted creature!", p.Description)
	assert.Equal(t, ColorCreature, p.Color)
	assert.Equal(t, FooterData, p.Footer)
	assert.Equal(t, d.ImageURL, p.ImageURL)
	assert.Equal(t, []string{"📊 Creature Stats", FieldDescription, FieldLoot, FieldBenefits, FieldDuration}, fieldNames(p))

	stats, _ := p.Field("📊 Creature Stats")
	assert.Equal(t, "❤️ **HP:** 1,900\n🌟 **Experience:** 2,100", stats.Value)
	assert.True(t, stats.Inline)

	loot, _ := p.Field(FieldLoot)
	assert.Equal(t, "• gold coin\n• dragon ham\n• royal helmet\n• ...and 2 more items", loot.Value)

	benefits, _ := p.Field(FieldBenefits)
	assert.Contains(t, benefits.Value, "2x Experience Points")
}

func TestBuildBossWithUnknownStats(t *testing.T) {
	p := Build(tibia.Details{Name: "Ferumbras", Description: "x", Source: tibia.SourceNone}, tibia.KindBoss)

	assert.Equal(t, "👹 Daily Boosted Boss", p.Title)
	assert.Equal(t, ColorBoss, p.Color)
	assert.Equal(t, "**Ferumbras** is today's boosted boss!", p.Description)
	stats, ok := p.Field("📊 Boss Stats")
	require.True(t, ok)
	assert.Equal(t, "❤️ **HP:** Unknown\n🌟 **Experience:** Unknown", stats.Value)
	_, hasLoot := p.Field(FieldLoot)
	assert.False(t, hasLoot)
	benefits, _ := p.Field(FieldBenefits)
	assert.Contains(t, benefits.Value, "3x Bosstiary Progress")
}

func TestBuildWithoutDetails(t *testing.T) {
	p := Build(tibia.Details{Name: "Rat"}, tibia.KindCreature)
	assert.Equal(t, []string{FieldInformation, FieldBenefits, FieldDuration}, fieldNames(p))
	info, _ := p.Field(FieldInformation)
	assert.Equal(t, "Detailed creature data not available", info.Value)
}

func TestBuildTruncatesDescription(t *testing.T) {
	long := strings.Repeat("ä", 250)
	p := Build(tibia.Details{Name: "Rat", Description: long}, tibia.KindCreature)
	f, ok := p.Field(FieldDescription)
	require.True(t, ok)
	assert.Equal(t, 200, len([]rune(f.Value)))
	assert.True(t, strings.HasSuffix(f.Value, "..."))
	assert.Equal(t, strings.Repeat("ä", 197)+"...", f.Value)
}

func TestBuildIsDeterministic(t *testing.T) {
	d := tibia.Details{Name: "Demon", HitPoints: i64(8200), Loot: []string{"a"}}
	assert.Equal(t, Build(d, tibia.KindCreature), Build(d, tibia.KindCreature))
}

func TestStat(t *testing.T) {
	assert.Equal(t, "Unknown", Stat(nil))
	assert.Equal(t, "0", Stat(i64(0)))
	assert.Equal(t, "1,234,567", Stat(i64(1234567)))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 200))
	assert.Equal(t, "ab...", Truncate("abcdefgh", 5))
	assert.Equal(t, "abc", Truncate("abcdefgh", 3))
}

func TestNextServerSave(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	before := time.Date(2025, 7, 16, 9, 30, 0, 0, berlin)
	save := NextServerSave(before, berlin, 10, 0)
	assert.Equal(t, time.Date(2025, 7, 16, 10, 0, 0, 0, berlin), save)
	assert.Equal(t, "0h 30m", Until(save.Sub(before)))

	atSave := time.Date(2025, 7, 16, 10, 0, 0, 0, berlin)
	assert.Equal(t, time.Date(2025, 7, 17, 10, 0, 0, 0, berlin), NextServerSave(atSave, berlin, 10, 0))

	// Day before the October DST change: still 10:00 local the next day.
	autumn := time.Date(2025, 10, 25, 12, 0, 0, 0, berlin)
	next := NextServerSave(autumn, berlin, 10, 0)
	assert.Equal(t, 10, next.Hour())
	assert.Equal(t, 26, next.Day())
	assert.Equal(t, "23h 0m", Until(next.Sub(autumn)))
}

func TestServerSavePayload(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	now := time.Date(2025, 7, 16, 11, 15, 0, 0, berlin)
	p := ServerSavePayload(now, NextServerSave(now, berlin, 10, 0))

	when, _ := p.Field("🕙 Next Save Time")
	assert.Equal(t, "10:00 CEST", when.Value)
	left, _ := p.Field("⏳ Time Until")
	assert.Equal(t, "22h 45m", left.Value)
	date, _ := p.Field("📅 Date")
	assert.Equal(t, "2025-07-17", date.Value)
	resets, _ := p.Field("📝 What Resets at Server Save")
	assert.Equal(t, "• Boosted Creature\n• Boosted Boss\n• Daily Rewards\n• Rashid Location\n• Boss Cooldowns", resets.Value)
}

func TestUpdateSummary(t *testing.T) {
	assert.Equal(t, "✅ Boosted creature updated\n⚠️ No boss update needed\n❌ boss: send failed",
		UpdateSummary(true, false, []string{"boss: send failed"}))
}

func TestRenderHTMLEscapesAndBolds(t *testing.T) {
	p := Payload{
		Title:       "🦎 Daily Boosted Creature",
		Description: "**Rat <King>** is today's boosted creature!",
		Fields:      []Field{{Name: "A & B", Value: "❤️ **HP:** 1,000"}},
		Footer:      FooterData,
		ImageURL:    "https://x/y.gif?a=1&b=2",
	}
	out := RenderHTML(p)
	assert.True(t, strings.HasPrefix(out, "<b>🦎 Daily Boosted Creature</b>\n<b>Rat &lt;King&gt;</b> is today&#39;s boosted creature!"))
	assert.Contains(t, out, "<b>A &amp; B</b>\n❤️ <b>HP:</b> 1,000")
	assert.Contains(t, out, `<a href="https://x/y.gif?a=1&amp;b=2">`)
	assert.Contains(t, out, "<i>"+FooterData+"</i>")
}

func TestPlainTextStripsMarkers(t *testing.T) {
	out := PlainText(Payload{Title: "T", Description: "**Dragon** rises"})
	assert.Equal(t, "T\nDragon rises", out)
}
