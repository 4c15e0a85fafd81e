package validation

import (
	"testing"
)

func valid() CreateReservationRequest {
	return CreateReservationRequest{
		TableID:    "5",
		CustomerID: "cust-123",
		Date:       "2025-09-15",
		Time:       "19:00",
		PartySize:  4,
	}
}

func TestCreateReservationRequest_Valid(t *testing.T) {
	v := New()

	req := valid()
	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}

	req.Time = "19:00:00"
	req.SpecialRequests = "window seat"
	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid with seconds, got error: %v", err)
	}
}

func TestCreateReservationRequest_BadFormats(t *testing.T) {
	v := New()

	req := valid()
	req.Date = "15/09/2025"
	req.Time = "7pm"

	err := v.Struct(req)
	if err == nil {
		t.Fatal("expected validation error for date and time format, got nil")
	}
	fields := Fields(err)
	if fields["date"] != "date" || fields["time"] != "clock" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestCreateReservationRequest_PartySizeBounds(t *testing.T) {
	v := New()

	for _, size := range []int{0, -1} {
		req := valid()
		req.PartySize = size
		err := v.Struct(req)
		if err == nil {
			t.Fatalf("party size %d: expected error", size)
		}
		if _, ok := Fields(err)["party_size"]; !ok {
			t.Fatalf("party size %d: party_size not reported: %v", size, Fields(err))
		}
	}

	// large parties are left to the configured booking rules
	req := valid()
	req.PartySize = 40
	if err := v.Struct(req); err != nil {
		t.Fatalf("party size 40: unexpected error %v", err)
	}
}

func TestCreateReservationRequest_MissingFields(t *testing.T) {
	v := New()

	err := v.Struct(CreateReservationRequest{PartySize: 2})
	if err == nil {
		t.Fatal("expected validation errors for missing required fields, got nil")
	}
	fields := Fields(err)
	for _, f := range []string{"table_id", "customer_id", "date", "time"} {
		if fields[f] != "required" {
			t.Fatalf("%s: expected required, got %q", f, fields[f])
		}
	}
}

func TestReservationConversion(t *testing.T) {
	in := valid().Reservation()
	if in.TableID != "5" || in.PartySize != 4 || in.Time != "19:00" {
		t.Fatalf("unexpected conversion: %+v", in)
	}
}
