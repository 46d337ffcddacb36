package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/itsthedevman/esm-arma/internal/audit"
	"github.com/itsthedevman/esm-arma/internal/economy"
	"github.com/itsthedevman/esm-arma/internal/persistence/sqlitestore"
	"github.com/itsthedevman/esm-arma/internal/store"
)

func openDB(dataDir, dbPath string) *sqlitestore.Store {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		path = filepath.Join(dataDir, "esm.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	db, err := sqlitestore.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return db
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/esm.sqlite)")
	uid := fs.String("uid", "", "player uid (account, territories, rewards, notifications, audits)")
	id := fs.String("id", "", "territory id (territory)")
	netID := fs.String("net", "", "container net id (items)")
	kind := fs.String("kind", "", "audit kind filter")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "counts"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	db := openDB(*dataDir, *dbPath)
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch q {
	case "counts":
		var counts map[string]int64
		if counts, err = db.Counts(ctx); err == nil {
			printJSON(counts)
		}

	case "account":
		requireFlag("uid", *uid)
		var a store.Account
		if a, err = db.Account(ctx, *uid); err == nil {
			printJSON(a)
		}

	case "territory":
		requireFlag("id", *id)
		var tr store.Territory
		if tr, err = db.Territory(ctx, *id); err == nil {
			printJSON(tr)
		}

	case "territories":
		requireFlag("uid", *uid)
		var ts []store.Territory
		if ts, err = db.TerritoriesOf(ctx, *uid); err == nil {
			for _, tr := range ts {
				printJSON(tr)
			}
		}

	case "rewards":
		requireFlag("uid", *uid)
		var rs []store.Reward
		if rs, err = db.Rewards(ctx, *uid); err == nil {
			for _, r := range rs {
				printJSON(r)
			}
		}

	case "audits":
		var es []audit.Entry
		if es, err = db.Audits(ctx, sqlitestore.AuditFilter{Actor: *uid, Kind: audit.Kind(*kind), Limit: *limit}); err == nil {
			for _, e := range es {
				printJSON(e)
			}
		}

	case "execs":
		var qs []sqlitestore.QueuedExec
		if qs, err = db.PendingExecs(ctx, *limit); err == nil {
			for _, e := range qs {
				printJSON(e)
			}
		}

	case "items":
		requireFlag("net", *netID)
		var items []store.Item
		if items, err = db.Items(ctx, *netID); err == nil {
			for _, it := range items {
				printJSON(it)
			}
		}

	case "notifications":
		requireFlag("uid", *uid)
		var ns []store.Notification
		if ns, err = db.Notifications(ctx, *uid); err == nil {
			for _, n := range ns {
				printJSON(n)
			}
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data|-db PATH] [-uid UID] [-id TERRITORY] [-net NETID] [-kind KIND] counts|account|territory|territories|rewards|audits|execs|items|notifications")
		os.Exit(2)
	}
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintln(os.Stderr, "not found")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
}

func rewardCmd(args []string) {
	fs := flag.NewFlagSet("reward", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	uid := fs.String("uid", "", "owner uid (required)")
	rtype := fs.String("type", string(store.RewardLockerPoptabs), "classname|vehicle|player_poptabs|locker_poptabs|respect")
	classname := fs.String("classname", "", "item or vehicle classname")
	qty := fs.Int64("quantity", 1, "amount or item count")
	expires := fs.Duration("expires", 0, "expiry from now (0 = never)")
	_ = fs.Parse(args)

	requireFlag("uid", *uid)
	t := store.RewardType(strings.TrimSpace(*rtype))
	if !t.Valid() {
		fmt.Fprintln(os.Stderr, "bad -type:", *rtype)
		os.Exit(2)
	}
	if *qty <= 0 {
		fmt.Fprintln(os.Stderr, "-quantity must be > 0")
		os.Exit(2)
	}
	if (t == store.RewardClassname || t == store.RewardVehicle) && strings.TrimSpace(*classname) == "" {
		fmt.Fprintln(os.Stderr, "missing -classname")
		os.Exit(2)
	}

	db := openDB(*dataDir, *dbPath)
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := db.Account(ctx, *uid); err != nil {
		fmt.Fprintln(os.Stderr, "owner:", err)
		os.Exit(1)
	}

	now := time.Now().UTC()
	r := store.Reward{
		Code:      economy.NewRewardCode(),
		OwnerUID:  *uid,
		Type:      t,
		Classname: strings.TrimSpace(*classname),
		Quantity:  *qty,
		Source:    "admin_cli",
		CreatedAt: now,
	}
	if *expires > 0 {
		r.ExpiresAt = now.Add(*expires)
	}
	if t == store.RewardVehicle {
		pin, err := economy.NewPin()
		if err != nil {
			fmt.Fprintln(os.Stderr, "pin:", err)
			os.Exit(1)
		}
		r.Pin = pin
	}
	if _, err := db.Reward(ctx, r.Code); err == nil {
		fmt.Fprintln(os.Stderr, "code collision; run again")
		os.Exit(1)
	}
	if err := db.Apply(ctx, store.Mutation{Rewards: []store.Reward{r}}); err != nil {
		fmt.Fprintln(os.Stderr, "apply:", err)
		os.Exit(1)
	}
	printJSON(r)
}

func requireFlag(name, v string) {
	if strings.TrimSpace(v) == "" {
		fmt.Fprintf(os.Stderr, "missing -%s\n", name)
		os.Exit(2)
	}
}
