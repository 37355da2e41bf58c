package dragonforge

import (
	"fmt"
	"sort"
	"strings"
)

// Variant is one build flavor: a stable name, a human label that ends up in
// the archive filename, and an ordered spell list. Order is significant,
// later spells may key off markers earlier spells leave in the tree.
type Variant struct {
	Name   string
	Label  string
	Spells []string
}

const defaultVariantName = "vanilla"

var variantTable = []Variant{
	{Name: "vanilla", Label: "Vanilla", Spells: []string{"debug-off"}},
	{Name: "tiger", Label: "Tiger", Spells: []string{"debug-off", "descriptor-pool", "tiger-clamp"}},
	{Name: "wyvern", Label: "Wyvern", Spells: []string{"debug-off", "descriptor-pool", "wavesize"}},
	{Name: "phoenix", Label: "Phoenix", Spells: []string{"debug-off", "descriptor-pool", "tiger-clamp", "wavesize", "adrenaline"}},
}

func lookupVariant(name string) (Variant, bool) {
	for _, v := range variantTable {
		if v.Name == name {
			return v, true
		}
	}
	return Variant{}, false
}

// resolveVariant never hard-fails: a typo'd variant name falls back to the
// default with a warning so the run still attempts some build.
func resolveVariant(name string) Variant {
	if v, ok := lookupVariant(strings.ToLower(name)); ok {
		return v
	}
	colArrow.Print("-> ")
	colWarn.Printf("Unknown variant %q, falling back to %q\n", name, defaultVariantName)
	v, _ := lookupVariant(defaultVariantName)
	return v
}

func printVariants() {
	colInfo.Println("Available variants:")
	for _, v := range variantTable {
		def := ""
		if v.Name == defaultVariantName {
			def = " (default)"
		}
		fmt.Printf("  %-10s %-10s %s%s\n", v.Name, v.Label, strings.Join(v.Spells, ", "), def)
	}
}

func printSpells() {
	colInfo.Println("Spellbook:")
	names := make([]string, 0, len(spellbook))
	for name := range spellbook {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sp := spellbook[name]
		kind := "rewrite"
		detail := sp.Target
		if sp.Kind == diffPatch {
			kind = "patch"
			detail = sp.Patch
		}
		fmt.Printf("  %-16s %-8s %s\n", name, kind, detail)
	}
}
