package state

// Bucket is one rollup accumulation cell: request counts, error counts, and
// total duration/usage for whatever scope it's keyed under.
type Bucket struct {
	RequestsTotal int64
	RequestsError int64
	DurationMsTotal int64
	Usage         Usage
}

func (b *Bucket) fold(fr FinishedRequest) {
	b.RequestsTotal++
	if fr.StatusCode < 200 || fr.StatusCode >= 300 {
		b.RequestsError++
	}
	b.DurationMsTotal += fr.DurationMs
	if fr.Usage != nil {
		b.Usage.Add(*fr.Usage)
	}
}

// UsageRollup accumulates usage across several scopes, replayed from the
// audit log at startup and updated on every FinishRequest call thereafter.
type UsageRollup struct {
	SinceStart  Bucket
	ByDay       map[int64]*Bucket
	ByConfig    map[string]*Bucket
	ByConfigDay map[string]map[int64]*Bucket
	ByProvider  map[string]*Bucket
	ByProviderDay map[string]map[int64]*Bucket
}

func newUsageRollup() *UsageRollup {
	return &UsageRollup{
		ByDay:         map[int64]*Bucket{},
		ByConfig:      map[string]*Bucket{},
		ByConfigDay:   map[string]map[int64]*Bucket{},
		ByProvider:    map[string]*Bucket{},
		ByProviderDay: map[string]map[int64]*Bucket{},
	}
}

func (r *UsageRollup) fold(fr FinishedRequest) {
	r.SinceStart.fold(fr)

	day := DayIndex(fr.EndedAtMs)
	dayBucket, ok := r.ByDay[day]
	if !ok {
		dayBucket = &Bucket{}
		r.ByDay[day] = dayBucket
	}
	dayBucket.fold(fr)

	if fr.ConfigName != "" {
		cb, ok := r.ByConfig[fr.ConfigName]
		if !ok {
			cb = &Bucket{}
			r.ByConfig[fr.ConfigName] = cb
		}
		cb.fold(fr)

		byDay, ok := r.ByConfigDay[fr.ConfigName]
		if !ok {
			byDay = map[int64]*Bucket{}
			r.ByConfigDay[fr.ConfigName] = byDay
		}
		cdb, ok := byDay[day]
		if !ok {
			cdb = &Bucket{}
			byDay[day] = cdb
		}
		cdb.fold(fr)
	}

	if fr.ProviderID != "" {
		pb, ok := r.ByProvider[fr.ProviderID]
		if !ok {
			pb = &Bucket{}
			r.ByProvider[fr.ProviderID] = pb
		}
		pb.fold(fr)

		byDay, ok := r.ByProviderDay[fr.ProviderID]
		if !ok {
			byDay = map[int64]*Bucket{}
			r.ByProviderDay[fr.ProviderID] = byDay
		}
		pdb, ok := byDay[day]
		if !ok {
			pdb = &Bucket{}
			byDay[day] = pdb
		}
		pdb.fold(fr)
	}
}

func (s *Store) updateRollups(fr FinishedRequest) {
	s.rollupsMu.Lock()
	defer s.rollupsMu.Unlock()
	r, ok := s.rollups[fr.Service]
	if !ok {
		r = newUsageRollup()
		s.rollups[fr.Service] = r
	}
	r.fold(fr)
}

// UsageRollupView is the read-only, control-API-facing shape of UsageRollup.
type UsageRollupView struct {
	SinceStart    Bucket
	ByDay         []DayBucket
	ByConfig      []NamedBucket
	ByConfigDay   map[string][]DayBucket
	ByProvider    []NamedBucket
	ByProviderDay map[string][]DayBucket
}

// DayBucket pairs a day index with its bucket.
type DayBucket struct {
	DayIndex int64
	Bucket   Bucket
}

// NamedBucket pairs a config/provider name with its bucket.
type NamedBucket struct {
	Name   string
	Bucket Bucket
}

// UsageRollupSnapshot returns a read-only view of the rollup for service.
func (s *Store) UsageRollupSnapshot(service string) UsageRollupView {
	s.rollupsMu.Lock()
	defer s.rollupsMu.Unlock()

	r, ok := s.rollups[service]
	if !ok {
		return UsageRollupView{ByConfigDay: map[string][]DayBucket{}, ByProviderDay: map[string][]DayBucket{}}
	}

	view := UsageRollupView{
		SinceStart:    r.SinceStart,
		ByConfigDay:   map[string][]DayBucket{},
		ByProviderDay: map[string][]DayBucket{},
	}
	for day, b := range r.ByDay {
		view.ByDay = append(view.ByDay, DayBucket{DayIndex: day, Bucket: *b})
	}
	for name, b := range r.ByConfig {
		view.ByConfig = append(view.ByConfig, NamedBucket{Name: name, Bucket: *b})
	}
	for name, b := range r.ByProvider {
		view.ByProvider = append(view.ByProvider, NamedBucket{Name: name, Bucket: *b})
	}
	for name, byDay := range r.ByConfigDay {
		var days []DayBucket
		for day, b := range byDay {
			days = append(days, DayBucket{DayIndex: day, Bucket: *b})
		}
		view.ByConfigDay[name] = days
	}
	for name, byDay := range r.ByProviderDay {
		var days []DayBucket
		for day, b := range byDay {
			days = append(days, DayBucket{DayIndex: day, Bucket: *b})
		}
		view.ByProviderDay[name] = days
	}
	return view
}

// ReplayAuditUsage folds a previously-recorded FinishedRequest (read back
// from the JSONL audit log at startup) into the usage rollups, without
// touching the active/recent registries — only usage.ByDay/etc accumulate
// across restarts.
func (s *Store) ReplayAuditUsage(service string, fr FinishedRequest) {
	s.rollupsMu.Lock()
	defer s.rollupsMu.Unlock()
	r, ok := s.rollups[service]
	if !ok {
		r = newUsageRollup()
		s.rollups[service] = r
	}
	r.fold(fr)
}
