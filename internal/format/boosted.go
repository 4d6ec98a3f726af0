package format

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"tibiabot/internal/tibia"
)

const (
	MaxDescription = 200
	maxLootShown   = 3
	Unknown        = "Unknown"
)

const (
	FieldInformation = "ℹ️ Information"
	FieldDescription = "📝 Description"
	FieldLoot        = "💰 Notable Loot"
	FieldBenefits    = "⚡ Boosted Benefits"
	FieldDuration    = "⏰ Duration"
)

var benefits = map[tibia.Kind]string{
	tibia.KindCreature: "• **2x Experience Points**\n• **2x Loot Drops**\n• **2x Respawn Rate**",
	tibia.KindBoss:     "• **3x Bosstiary Progress**\n• **250% Increased Loot Rate**\n• **Cooldown Reset for Everyone**",
}

// Build formats today's boosted creature or boss announcement.
func Build(d tibia.Details, kind tibia.Kind) Payload {
	noun, title, color := "creature", "🦎 Daily Boosted Creature", ColorCreature
	if kind == tibia.KindBoss {
		noun, title, color = "boss", "👹 Daily Boosted Boss", ColorBoss
	}
	name := strings.TrimSpace(d.Name)
	if name == "" {
		name = Unknown
	}

	p := Payload{
		Title:       title,
		Description: fmt.Sprintf("**%s** is today's boosted %s!", name, noun),
		Color:       color,
		ImageURL:    d.ImageURL,
		Footer:      FooterData,
	}

	if d.HasData() {
		p.add(StatsFieldName(kind),
			fmt.Sprintf("❤️ **HP:** %s\n🌟 **Experience:** %s", Stat(d.HitPoints), Stat(d.Experience)),
			true)
		if desc := strings.TrimSpace(d.Description); desc != "" {
			p.add(FieldDescription, Truncate(desc, MaxDescription), false)
		}
		if loot := lootText(d.Loot); loot != "" {
			p.add(FieldLoot, loot, true)
		}
	} else {
		p.add(FieldInformation, fmt.Sprintf("Detailed %s data not available", noun), false)
	}

	p.add(FieldBenefits, benefits[kind], true)
	p.add(FieldDuration, "Until next server save\n(10:00 CEST daily)", true)
	return p
}

// StatsFieldName is the label of the HP/experience block for kind.
func StatsFieldName(kind tibia.Kind) string {
	if kind == tibia.KindBoss {
		return "📊 Boss Stats"
	}
	return "📊 Creature Stats"
}

// Stat formats a number with thousands separators, or "Unknown".
func Stat(v *int64) string {
	if v == nil {
		return Unknown
	}
	return humanize.Comma(*v)
}

// Truncate cuts s to at most n runes, ending with "..." when shortened.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func lootText(items []string) string {
	if len(items) == 0 {
		return ""
	}
	shown := items
	if len(shown) > maxLootShown {
		shown = shown[:maxLootShown]
	}
	lines := make([]string, 0, len(shown)+1)
	for _, it := range shown {
		lines = append(lines, "• "+it)
	}
	if rest := len(items) - len(shown); rest > 0 {
		lines = append(lines, fmt.Sprintf("• ...and %d more items", rest))
	}
	return strings.Join(lines, "\n")
}
