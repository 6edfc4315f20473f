package database

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/config"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/logging"
)

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}

func TestThatMissingWorkspaceIsNotAnError(t *testing.T) {
	if db, ok := newDatabaseForTest(t); ok {
		_, _, _, found, err := db.GetWorkspacePosition("nobody", "g1")
		if err != nil {
			t.Error(err.Error())
		}
		if found {
			t.Error("GetWorkspacePosition should not find anything in an empty database")
		}
	}
}

func TestThatWorkspacePositionIsUpserted(t *testing.T) {
	if db, ok := newDatabaseForTest(t); ok {
		if err := db.SaveWorkspacePosition("s1", "g1", "space_list", "h1", ""); err != nil {
			t.Fatal(err.Error())
		}
		if err := db.SaveWorkspacePosition("s1", "g1", "device_list", "h1", "sp1"); err != nil {
			t.Fatal(err.Error())
		}

		state, houseID, spaceID, found, err := db.GetWorkspacePosition("s1", "g1")
		if err != nil || !found {
			t.Fatalf("GetWorkspacePosition failed: %v", err)
		}

		checkStringValue(t, "state", state, "device_list")
		checkStringValue(t, "house", houseID, "h1")
		checkStringValue(t, "space", spaceID, "sp1")

		_, _, _, found, _ = db.GetWorkspacePosition("s1", "g2")
		if found {
			t.Error("positions must be kept per group")
		}
	}
}

func TestThatDeviceEventsAreReturnedNewestFirst(t *testing.T) {
	if db, ok := newDatabaseForTest(t); ok {
		snapshot := map[string]string{"lock_status": "locked"}

		db.RecordDeviceEvent("d1", "lock", true, "Đã khóa thiết bị", snapshot)
		db.RecordDeviceEvent("d1", "unlock", false, "Không có quyền", nil)
		db.RecordDeviceEvent("d2", "power_on", true, "", nil)

		events, err := db.GetDeviceEvents("d1", 10)
		if err != nil {
			t.Fatal(err.Error())
		}

		if len(events) != 2 {
			t.Fatalf("expected 2 events, but got %d", len(events))
		}

		checkStringValue(t, "action", events[0].Action, "unlock")
		if events[0].Success {
			t.Error("the unlock event should be a failure")
		}

		stored := map[string]string{}
		if err := json.Unmarshal(events[1].Snapshot, &stored); err != nil {
			t.Fatal(err.Error())
		}
		checkStringValue(t, "snapshot", stored["lock_status"], "locked")

		limited, _ := db.GetDeviceEvents("d1", 1)
		if len(limited) != 1 {
			t.Errorf("limit was not applied, got %d events", len(limited))
		}
	}
}

func TestThatUnknownDriverIsRejected(t *testing.T) {
	_, err := NewConnector(config.DatabaseConfig{Driver: "oracle"}, logging.NewLogger())
	if err == nil {
		t.Error("NewConnector should fail for unknown drivers")
	}
}

func checkStringValue(t *testing.T, property, lhs, rhs string) {
	if lhs != rhs {
		t.Errorf("Check string failed for property %s: %s != %s", property, lhs, rhs)
	}
}

func newDatabaseForTest(t *testing.T) (Datastore, bool) {
	log := logging.NewLogger()
	db, err := NewDatabaseConnection(NewSQLiteConnector(), log)

	if err != nil {
		t.Error(err.Error())
		return nil, false
	}

	return db, true
}
