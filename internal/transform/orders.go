package transform

import (
	"context"

	"github.com/bjaus/docsync/internal/schema"
	"github.com/bjaus/docsync/internal/source"
)

// addresses derives one address row per order from the embedded address
// object under prefix.
func (t *Transformer) addresses(kind schema.Kind, prefix, typ string) transformFunc {
	return func(ctx context.Context, records []source.Record) ([]schema.Row, error) {
		zones, err := t.references(ctx, kind, schema.KindZone, "zone_id", collect(records, field(prefix, "zone")))
		if err != nil {
			return nil, err
		}
		cities, err := t.references(ctx, kind, schema.KindCity, "city_id", collect(records, field(prefix, "city")))
		if err != nil {
			return nil, err
		}
		countries, err := t.references(ctx, kind, schema.KindCountry, "country_id", collect(records, field(prefix, "country")))
		if err != nil {
			return nil, err
		}

		rows := make([]schema.Row, 0, len(records))
		for _, rec := range records {
			addr, _ := rec.Fields[prefix].(map[string]any)
			rows = append(rows, schema.Row{
				"order_mongo_id": rec.ID,
				"type":           typ,
				"first_line":     text(addr["firstLine"]),
				"second_line":    text(addr["secondLine"]),
				"district":       text(addr["district"]),
				"floor":          text(addr["floor"]),
				"apartment":      text(addr["apartment"]),
				"geo_location":   point(addr["geoLocation"]),
				"zone_id":        zones.id(ref(addr["zone"])),
				"city_id":        cities.id(ref(addr["city"])),
				"country_id":     countries.id(ref(addr["country"])),
				"created_at":     timestamp(rec.CreatedAt),
				"updated_at":     timestamp(rec.UpdatedAt),
			})
		}
		zones.report()
		cities.report()
		countries.report()
		return rows, nil
	}
}

func (t *Transformer) orders(ctx context.Context, records []source.Record) ([]schema.Row, error) {
	orderIDs := collect(records, recordID)
	addrs, err := t.res.ResolveTyped(ctx, schema.KindAddressPickup, orderIDs, "type")
	if err != nil {
		return nil, err
	}
	receivers, err := t.references(ctx, schema.KindOrder, schema.KindReceiver, "receiver_id", collect(records, field("receiver")))
	if err != nil {
		return nil, err
	}
	stars, err := t.references(ctx, schema.KindOrder, schema.KindStar, "star_id", collect(records, field("star")))
	if err != nil {
		return nil, err
	}

	var pickupMisses, dropoffMisses int
	address := func(orderID, typ string, misses *int) any {
		if id, ok := addrs.Lookup(orderID, typ); ok {
			return id
		}
		*misses++
		return nil
	}

	rows := make([]schema.Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, schema.Row{
			"mongo_id":           rec.ID,
			"order_number":       text(rec.Fields["orderId"]),
			"type":               text(rec.Fields["type"]),
			"pickup_address_id":  address(rec.ID, schema.AddressPickup, &pickupMisses),
			"dropoff_address_id": address(rec.ID, schema.AddressDropoff, &dropoffMisses),
			"receiver_id":        receivers.id(ref(rec.Fields["receiver"])),
			"star_id":            stars.id(ref(rec.Fields["star"])),
			"created_at":         timestamp(rec.CreatedAt),
			"updated_at":         timestamp(rec.UpdatedAt),
		})
	}
	t.typedMiss(schema.KindOrder, "pickup_address_id", pickupMisses)
	t.typedMiss(schema.KindOrder, "dropoff_address_id", dropoffMisses)
	receivers.report()
	stars.report()
	return rows, nil
}

func (t *Transformer) confirmations(ctx context.Context, records []source.Record) ([]schema.Row, error) {
	orders, err := t.references(ctx, schema.KindConfirmation, schema.KindOrder, "order_id", collect(records, recordID))
	if err != nil {
		return nil, err
	}

	rows := make([]schema.Row, 0, len(records))
	for _, rec := range records {
		c, _ := rec.Fields["confirmation"].(map[string]any)
		rows = append(rows, schema.Row{
			"order_mongo_id":       rec.ID,
			"order_id":             orders.id(rec.ID),
			"is_confirmed":         boolean(c["isConfirmed"], false),
			"number_of_sms_trials": integer(c["numberOfSmsTrials"], 0),
			"created_at":           timestamp(rec.CreatedAt),
			"updated_at":           timestamp(rec.UpdatedAt),
		})
	}
	orders.report()
	return rows, nil
}

func (t *Transformer) codPayments(ctx context.Context, records []source.Record) ([]schema.Row, error) {
	orders, err := t.references(ctx, schema.KindCODPayment, schema.KindOrder, "order_id", collect(records, recordID))
	if err != nil {
		return nil, err
	}

	rows := make([]schema.Row, 0, len(records))
	for _, rec := range records {
		cod, _ := rec.Fields["cod"].(map[string]any)
		rows = append(rows, schema.Row{
			"order_mongo_id":             rec.ID,
			"order_id":                   orders.id(rec.ID),
			"amount":                     money(cod["amount"]),
			"collected_amount":           money(cod["collectedAmount"]),
			"is_paid_back":               boolean(cod["isPaidBack"], false),
			"collected_from_business_at": timestamp(rec.Fields["collectedFromBusiness"]),
			"created_at":                 timestamp(rec.CreatedAt),
			"updated_at":                 timestamp(rec.UpdatedAt),
		})
	}
	orders.report()
	return rows, nil
}

// trackers reference orders by business key: tracker.orderId holds the
// order number, not the order document id.
func (t *Transformer) trackers(ctx context.Context, records []source.Record) ([]schema.Row, error) {
	orders, err := t.businessKeys(ctx, schema.KindTracker, schema.KindOrder, "order_number", "order_id",
		collect(records, field("orderId")))
	if err != nil {
		return nil, err
	}

	rows := make([]schema.Row, 0, len(records))
	for _, rec := range records {
		number := ref(rec.Fields["orderId"])
		var orderNumber any
		if number != "" {
			orderNumber = number
		}
		rows = append(rows, schema.Row{
			"mongo_id":     rec.ID,
			"order_number": orderNumber,
			"order_id":     orders.id(number),
			"created_at":   timestamp(rec.CreatedAt),
			"updated_at":   timestamp(rec.UpdatedAt),
		})
	}
	orders.report()
	return rows, nil
}
