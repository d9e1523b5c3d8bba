package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/entrhq/formdraft/pkg/autosave"
	"github.com/entrhq/formdraft/pkg/config"
	"github.com/entrhq/formdraft/pkg/consent"
	"github.com/entrhq/formdraft/pkg/draft"
	"github.com/entrhq/formdraft/pkg/fields"
	"github.com/entrhq/formdraft/pkg/interact"
	"github.com/entrhq/formdraft/pkg/kv"
	"github.com/entrhq/formdraft/pkg/remember"
)

// app runs one command against an opened store.
type app struct {
	cfg      *Config
	store    kv.Store
	in       io.Reader
	out      io.Writer
	consent  *consent.Stored
	provider consent.Provider
	now      func() time.Time
}

func newApp(ctx context.Context, cfg *Config, store kv.Store, in io.Reader, out io.Writer) (*app, error) {
	stored := consent.NewStored(store)
	if err := stored.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to read consent record: %w", err)
	}

	a := &app{cfg: cfg, store: store, in: in, out: out, consent: stored, provider: stored, now: time.Now}
	if stored.NeedsAnswer() && cfg.AssumeConsent {
		a.provider = consent.NewStatic(true, consent.Functionality, consent.Preferences)
	}

	// Withdrawing functionality consent takes every form's drafts and
	// remembered values with it.
	stored.OnWithdraw(consent.Functionality, func(ctx context.Context) error {
		drafts, err := a.draftStore()
		if err != nil {
			return errors.Join(err, remember.Purge(ctx, store))
		}
		return errors.Join(drafts.Purge(ctx), remember.Purge(ctx, store))
	})
	stored.OnWithdraw(consent.Preferences, func(ctx context.Context) error {
		return store.Delete(ctx, config.SectionIDPreferences)
	})
	return a, nil
}

func (a *app) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "list":
		return a.list(ctx)
	case "show":
		if len(args) != 1 {
			return fmt.Errorf("usage: show <n|id>")
		}
		return a.show(ctx, args[0])
	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("usage: delete <id>")
		}
		return a.delete(ctx, args[0])
	case "clear":
		return a.clear(ctx)
	case "offer":
		return a.offer(ctx)
	case "forms":
		return a.forms(ctx)
	case "purge":
		drafts, err := a.draftStore()
		if err != nil {
			return err
		}
		return drafts.Purge(ctx, args...)
	case "prune":
		return a.prune(ctx)
	case "prefs":
		return a.prefs(args)
	case "remember":
		return a.remember(ctx, args)
	case "consent":
		return a.consentCommand(ctx, args)
	default:
		return fmt.Errorf("unknown command %q (run with -h for usage)", command)
	}
}

// engine builds an engine for -form that is never started; it is only used
// to list, decode and delete drafts with the configured codec.
func (a *app) engine() (*autosave.Engine, error) {
	return a.engineFor(fields.NewMapForm(nil))
}

func (a *app) engineFor(form fields.Form, opts ...autosave.Option) (*autosave.Engine, error) {
	ecfg, err := a.cfg.engineConfig()
	if err != nil {
		return nil, err
	}
	if ecfg.FormKey == "" {
		return nil, fmt.Errorf("a form key is required (use -form or form_key in -config)")
	}
	opts = append([]autosave.Option{autosave.WithPreferences(config.NewPreferencesSection())}, opts...)
	return autosave.New(ecfg, form, a.store, a.provider, opts...)
}

func (a *app) draftStore() (*draft.Store, error) {
	ecfg, err := a.cfg.engineConfig()
	if err != nil {
		return nil, err
	}
	return draft.NewStore(a.store, consent.NewGate(a.provider),
		draft.WithKeyPrefix(ecfg.KeyPrefix),
		draft.WithMaxDrafts(ecfg.MaxDrafts),
		draft.WithTTLDays(ecfg.TTLDays),
	), nil
}

func (a *app) list(ctx context.Context) error {
	engine, err := a.engine()
	if err != nil {
		return err
	}
	defer engine.Close()

	set, err := engine.ListDrafts(ctx)
	if err != nil {
		return err
	}
	if len(set) == 0 {
		fmt.Fprintf(a.out, "No drafts for %s\n", engine.FormKey())
		return nil
	}

	now := a.now()
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tID\tSAVED\tFIELDS\tFLAGS")
	for i, d := range set {
		count := "?"
		if r, ok := engine.LoadDraftData(d); ok {
			count = strconv.Itoa(len(r.Fields))
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, d.ID,
			humanize.RelTime(d.Timestamp, now, "ago", "from now"), count, flags(d))
	}
	return w.Flush()
}

func flags(d draft.Draft) string {
	var parts []string
	if d.Compressed {
		parts = append(parts, "compressed")
	}
	if d.Encrypted {
		parts = append(parts, "encrypted")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

// lookup resolves a 1-based position or a draft id.
func lookup(set draft.Set, ref string) (draft.Draft, bool) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(set) {
			return draft.Draft{}, false
		}
		return set[n-1], true
	}
	return set.Find(ref)
}

func (a *app) show(ctx context.Context, ref string) error {
	engine, err := a.engine()
	if err != nil {
		return err
	}
	defer engine.Close()

	set, err := engine.ListDrafts(ctx)
	if err != nil {
		return err
	}
	d, ok := lookup(set, ref)
	if !ok {
		return fmt.Errorf("no draft %q for %s", ref, engine.FormKey())
	}
	r, ok := engine.LoadDraftData(d)
	if !ok {
		return fmt.Errorf("draft %s could not be decoded", d.ID)
	}

	view := struct {
		ID          string          `json:"id"`
		SavedAt     time.Time       `json:"saved_at"`
		Age         string          `json:"age"`
		Version     string          `json:"version"`
		IntegrityOK bool            `json:"integrity_ok"`
		Metadata    *draft.Metadata `json:"metadata,omitempty"`
		Fields      map[string]any  `json:"fields"`
	}{
		ID:          d.ID,
		SavedAt:     d.Timestamp,
		Age:         humanize.RelTime(d.Timestamp, a.now(), "ago", "from now"),
		Version:     d.Version,
		IntegrityOK: r.Meta.IntegrityOK,
		Metadata:    d.Metadata,
		Fields:      r.Fields,
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func (a *app) delete(ctx context.Context, id string) error {
	engine, err := a.engine()
	if err != nil {
		return err
	}
	defer engine.Close()

	set, err := engine.ListDrafts(ctx)
	if err != nil {
		return err
	}
	if _, ok := set.Find(id); !ok {
		return fmt.Errorf("no draft %q for %s", id, engine.FormKey())
	}
	if !engine.DeleteDraft(ctx, id) {
		return fmt.Errorf("draft %s was not deleted (is storage consent granted?)", id)
	}
	fmt.Fprintf(a.out, "Deleted %s\n", id)
	return nil
}

func (a *app) clear(ctx context.Context) error {
	engine, err := a.engine()
	if err != nil {
		return err
	}
	defer engine.Close()

	if !engine.ClearAllDrafts(ctx) {
		return fmt.Errorf("drafts of %s were not cleared (is storage consent granted?)", engine.FormKey())
	}
	fmt.Fprintf(a.out, "Cleared drafts of %s\n", engine.FormKey())
	return nil
}

// offer runs the same restore flow a form runs when it opens, answering
// prompts on the terminal. The form declares every field any draft holds.
func (a *app) offer(ctx context.Context) error {
	probe, err := a.engine()
	if err != nil {
		return err
	}
	set, err := probe.ListDrafts(ctx)
	if err != nil {
		probe.Close()
		return err
	}
	form := fields.NewMapForm(nil)
	for _, d := range set {
		if r, ok := probe.LoadDraftData(d); ok {
			for name := range r.Fields {
				form.Declare(name, nil)
			}
		}
	}
	probe.Close()

	prompter := interact.NewTerminal(interact.WithReader(a.in), interact.WithWriter(a.out))
	engine, err := a.engineFor(form, autosave.WithPrompter(prompter))
	if err != nil {
		return err
	}
	defer engine.Close()

	if len(set) == 0 {
		engine.ShowDraftManager(ctx)
		return nil
	}
	if !engine.CheckForSavedDrafts(ctx) {
		fmt.Fprintln(a.out, "No draft restored")
		return nil
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(form.Snapshot())
}

func (a *app) forms(ctx context.Context) error {
	drafts, err := a.draftStore()
	if err != nil {
		return err
	}
	keys, err := drafts.FormKeys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Fprintln(a.out, k)
	}
	return nil
}

func (a *app) prune(ctx context.Context) error {
	pruner, ok := a.store.(interface {
		Prune(ctx context.Context) (int64, error)
	})
	if !ok {
		return fmt.Errorf("the %s store does not support prune", a.cfg.StoreKind)
	}
	n, err := pruner.Prune(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Removed %d expired entries\n", n)
	return nil
}

func (a *app) prefs(args []string) error {
	manager, section, err := config.NewPreferencesManager(a.store, consent.NewCategoryGate(a.provider, consent.Preferences))
	if err != nil {
		return err
	}

	if len(args) > 0 {
		update := make(map[string]interface{}, len(args))
		for _, arg := range args {
			key, value, ok := strings.Cut(arg, "=")
			if !ok {
				return fmt.Errorf("invalid preference %q (want key=value)", arg)
			}
			if b, err := strconv.ParseBool(value); err == nil {
				update[key] = b
			} else {
				update[key] = value
			}
		}
		if err := section.SetData(update); err != nil {
			return err
		}
		if err := manager.SaveAll(); err != nil {
			if errors.Is(err, config.ErrConsentDenied) {
				return fmt.Errorf("preferences were not saved: preference storage consent is not granted")
			}
			return err
		}
	}

	data := section.Data()
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(a.out, "%s=%v\n", k, data[k])
	}
	return nil
}

// remember stores field=value pairs as remembered values of -form, then
// prints everything remembered for it.
func (a *app) remember(ctx context.Context, args []string) error {
	ecfg, err := a.cfg.engineConfig()
	if err != nil {
		return err
	}
	formKey := ecfg.FormKey
	if formKey == "" {
		return fmt.Errorf("a form key is required (use -form or form_key in -config)")
	}

	opts := remember.Options{FormKey: formKey, Filters: true, Pagination: true}
	values := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid value %q (want field=value)", arg)
		}
		opts.Fields = append(opts.Fields, key)
		values[key] = value
	}

	keeper, err := remember.New(fields.NewMapForm(nil), a.store, a.provider, opts, remember.WithSaveDelay(0))
	if err != nil {
		return err
	}
	defer keeper.Close()

	if err := keeper.LoadLastValues(ctx); err != nil {
		return err
	}
	keeper.LoadFilters(ctx)
	keeper.LoadPagination(ctx)

	for _, name := range opts.Fields {
		if err := keeper.Remember(ctx, name, values[name]); err != nil {
			if errors.Is(err, remember.ErrConsentDenied) {
				return fmt.Errorf("values were not remembered: storage consent is not granted")
			}
			return err
		}
	}

	info := keeper.Info()
	view := struct {
		LastValues map[string]any `json:"last_values"`
		Filters    map[string]any `json:"filters"`
		Pagination map[string]any `json:"pagination"`
	}{info.LastValues, info.Filters, info.Pagination}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func (a *app) consentCommand(ctx context.Context, args []string) error {
	if len(args) > 0 {
		var err error
		switch args[0] {
		case "accept":
			err = a.consent.AcceptAll(ctx)
		case "reject":
			err = a.consent.RejectAll(ctx)
		case "revoke":
			err = a.consent.Revoke(ctx)
		default:
			return fmt.Errorf("usage: consent [accept|reject|revoke]")
		}
		if err != nil {
			return err
		}
	}

	if a.consent.NeedsAnswer() {
		fmt.Fprintln(a.out, "No consent record")
		return nil
	}
	record := a.consent.Record()
	fmt.Fprintf(a.out, "accepted=%t version=%s recorded=%s\n",
		record.Accepted, record.Version, humanize.RelTime(record.Timestamp, a.now(), "ago", "from now"))
	categories := make([]string, 0, len(record.Preferences))
	for c := range record.Preferences {
		categories = append(categories, string(c))
	}
	sort.Strings(categories)
	for _, c := range categories {
		fmt.Fprintf(a.out, "  %s=%t\n", c, record.Preferences[consent.Category(c)])
	}
	return nil
}
