package routes

// Build creates one entry per configured path, all pointing at the default target.
func Build(cfg Config) ([]PathMatcher, map[PathMatcher]Entry) {
	order := make([]PathMatcher, 0, len(cfg.Paths))
	entries := make(map[PathMatcher]Entry, len(cfg.Paths))
	for _, p := range cfg.Paths {
		order = append(order, p)
		entries[p] = Entry{
			Target:       cfg.DefaultTarget,
			ChangeOrigin: cfg.ChangeOrigin,
		}
	}
	return order, entries
}

// Install overwrites table with the routes built from cfg. Existing entries
// for other paths are dropped.
func Install(table *Table, cfg Config) {
	order, entries := Build(cfg)
	table.Replace(order, entries)
}
