// Package schema declares the synchronized entity kinds: where each one is
// read from, which table it lands in, the columns it may write, and which
// kinds must be loaded before it.
package schema

import (
	"errors"
	"fmt"
	"slices"
)

// Kind names one synchronized stream.
type Kind string

const (
	KindStar           Kind = "star"
	KindCountry        Kind = "country"
	KindCity           Kind = "city"
	KindZone           Kind = "zone"
	KindReceiver       Kind = "receiver"
	KindAddressPickup  Kind = "address_pickup"
	KindAddressDropoff Kind = "address_dropoff"
	KindOrder          Kind = "order"
	KindConfirmation   Kind = "confirmation"
	KindCODPayment     Kind = "cod_payment"
	KindTracker        Kind = "tracker"
)

// Address type discriminators stored in addresses.type.
const (
	AddressPickup  = "pickup"
	AddressDropoff = "dropoff"
)

// Row is one target row keyed by column name. A nil value writes NULL.
type Row map[string]any

// Entity is the static description of one kind.
type Entity struct {
	Kind Kind
	// Collection is the source collection the kind is extracted from.
	Collection string
	// Table is the target table.
	Table string
	// SourceKey is the column holding the source identifier. Resolution
	// against this kind matches on it.
	SourceKey string
	// ConflictColumns is the natural unique key used for upserts.
	ConflictColumns []string
	// Columns is the allow-list of writable columns, in statement order.
	Columns []string
	// Expressions wraps the bind parameter of a column in SQL, %s being the
	// placeholder.
	Expressions map[string]string
	DependsOn   []Kind
}

// Allows reports whether column is writable for the entity.
func (e Entity) Allows(column string) bool {
	return slices.Contains(e.Columns, column)
}

// ErrUnknownKind is returned for a kind with no registered entity.
var ErrUnknownKind = errors.New("schema: unknown kind")

var audit = []string{"created_at", "updated_at"}

func cols(c ...string) []string { return append(c, audit...) }

var entities = map[Kind]Entity{
	KindStar: {
		Kind: KindStar, Collection: "star", Table: "stars", SourceKey: "mongo_id",
		ConflictColumns: []string{"mongo_id"},
		Columns:         cols("mongo_id", "name", "phone"),
	},
	KindCountry: {
		Kind: KindCountry, Collection: "country", Table: "countries", SourceKey: "mongo_id",
		ConflictColumns: []string{"mongo_id"},
		Columns:         cols("mongo_id", "name", "code"),
	},
	KindCity: {
		Kind: KindCity, Collection: "city", Table: "cities", SourceKey: "mongo_id",
		ConflictColumns: []string{"mongo_id"},
		Columns:         cols("mongo_id", "name"),
	},
	KindZone: {
		Kind: KindZone, Collection: "zone", Table: "zones", SourceKey: "mongo_id",
		ConflictColumns: []string{"mongo_id"},
		Columns:         cols("mongo_id", "name"),
	},
	KindReceiver: {
		Kind: KindReceiver, Collection: "receiver", Table: "receivers", SourceKey: "mongo_id",
		ConflictColumns: []string{"mongo_id"},
		Columns:         cols("mongo_id", "first_name", "last_name", "phone"),
	},
	KindAddressPickup:  address(KindAddressPickup),
	KindAddressDropoff: address(KindAddressDropoff),
	KindOrder: {
		Kind: KindOrder, Collection: "order", Table: "orders", SourceKey: "mongo_id",
		ConflictColumns: []string{"mongo_id"},
		Columns: cols("mongo_id", "order_number", "type",
			"pickup_address_id", "dropoff_address_id", "receiver_id", "star_id"),
		DependsOn: []Kind{KindAddressPickup, KindAddressDropoff, KindReceiver, KindStar},
	},
	KindConfirmation: {
		Kind: KindConfirmation, Collection: "order", Table: "confirmations", SourceKey: "order_mongo_id",
		ConflictColumns: []string{"order_mongo_id"},
		Columns:         cols("order_mongo_id", "order_id", "is_confirmed", "number_of_sms_trials"),
		DependsOn:       []Kind{KindOrder},
	},
	KindCODPayment: {
		Kind: KindCODPayment, Collection: "order", Table: "cod_payments", SourceKey: "order_mongo_id",
		ConflictColumns: []string{"order_mongo_id"},
		Columns: cols("order_mongo_id", "order_id", "amount", "collected_amount",
			"is_paid_back", "collected_from_business_at"),
		DependsOn: []Kind{KindOrder},
	},
	KindTracker: {
		Kind: KindTracker, Collection: "tracker", Table: "trackers", SourceKey: "mongo_id",
		ConflictColumns: []string{"mongo_id"},
		Columns:         cols("mongo_id", "order_number", "order_id"),
		DependsOn:       []Kind{KindOrder},
	},
}

func address(kind Kind) Entity {
	return Entity{
		Kind: kind, Collection: "order", Table: "addresses", SourceKey: "order_mongo_id",
		ConflictColumns: []string{"order_mongo_id", "type"},
		Columns: cols("order_mongo_id", "type", "first_line", "second_line", "district",
			"floor", "apartment", "geo_location", "zone_id", "city_id", "country_id"),
		Expressions: map[string]string{"geo_location": "ST_GeomFromText(%s, 4326)"},
		DependsOn:   []Kind{KindZone, KindCity, KindCountry},
	}
}

// Get returns the entity registered for kind.
func Get(kind Kind) (Entity, error) {
	e, ok := entities[kind]
	if !ok {
		return Entity{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return e, nil
}

// MustGet is Get for kinds known at compile time.
func MustGet(kind Kind) Entity {
	e, err := Get(kind)
	if err != nil {
		panic(err)
	}
	return e
}

// Kinds returns every registered kind in dependency order.
func Kinds() []Kind {
	order, err := topoSort(entities)
	if err != nil {
		panic(err)
	}
	return order
}

// Validate checks that every entity is internally consistent and that the
// dependency graph is acyclic.
func Validate() error {
	return validate(entities)
}

func validate(set map[Kind]Entity) error {
	var errs []error
	for kind, e := range set {
		if e.Kind != kind {
			errs = append(errs, fmt.Errorf("%s: registered under %q", e.Kind, kind))
		}
		if e.Table == "" || e.Collection == "" {
			errs = append(errs, fmt.Errorf("%s: table and collection are required", kind))
		}
		if !e.Allows(e.SourceKey) {
			errs = append(errs, fmt.Errorf("%s: source key %q is not a column", kind, e.SourceKey))
		}
		if len(e.ConflictColumns) == 0 {
			errs = append(errs, fmt.Errorf("%s: no conflict columns", kind))
		}
		for _, c := range e.ConflictColumns {
			if !e.Allows(c) {
				errs = append(errs, fmt.Errorf("%s: conflict column %q is not a column", kind, c))
			}
		}
		for c := range e.Expressions {
			if !e.Allows(c) {
				errs = append(errs, fmt.Errorf("%s: expression for unknown column %q", kind, c))
			}
		}
		for _, dep := range e.DependsOn {
			if _, ok := set[dep]; !ok {
				errs = append(errs, fmt.Errorf("%s: depends on unknown kind %q", kind, dep))
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	_, err := topoSort(set)
	return err
}

// topoSort orders kinds so that dependencies come first. Ties are broken by
// name so the result is stable.
func topoSort(set map[Kind]Entity) ([]Kind, error) {
	kinds := make([]Kind, 0, len(set))
	for k := range set {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[Kind]int, len(set))
	order := make([]Kind, 0, len(set))

	var visit func(Kind) error
	visit = func(k Kind) error {
		switch state[k] {
		case visiting:
			return fmt.Errorf("schema: dependency cycle through %q", k)
		case done:
			return nil
		}
		state[k] = visiting
		deps := slices.Clone(set[k].DependsOn)
		slices.Sort(deps)
		for _, d := range deps {
			if err := visit(d); err != nil {
				return err
			}
		}
		state[k] = done
		order = append(order, k)
		return nil
	}

	for _, k := range kinds {
		if err := visit(k); err != nil {
			return nil, err
		}
	}
	return order, nil
}
