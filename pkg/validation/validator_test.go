package validation

import (
	"strings"
	"testing"
)

func TestValidatePeerID(t *testing.T) {
	valid := []string{"1", "peer1", "dc2", "east_coast", "backup.site", "2b"}
	for _, id := range valid {
		if err := ValidatePeerID(id); err != nil {
			t.Errorf("ValidatePeerID(%q) = %v, want nil", id, err)
		}
	}

	invalid := []string{
		"",
		"peer-1", // hyphen collides with recovered queue naming
		"peer/1",
		"_peer",
		".peer",
		"peer 1",
		strings.Repeat("a", MaxPeerIDLength+1),
	}
	for _, id := range invalid {
		if err := ValidatePeerID(id); err == nil {
			t.Errorf("ValidatePeerID(%q) = nil, want error", id)
		}
	}
}

func TestValidateClusterKey(t *testing.T) {
	valid := []string{
		"hostname1.example.org:1234:/hbase",
		"hostname1.example.org,hostname2.example.org:1234:/foo",
		"zk1,zk2,zk3:2181:/hbase/replica",
	}
	for _, key := range valid {
		if err := ValidateClusterKey(key); err != nil {
			t.Errorf("ValidateClusterKey(%q) = %v, want nil", key, err)
		}
	}

	invalid := []string{
		"",
		"hostname1.example.org",            // no port, no root
		"hostname1.example.org:1234",       // no root
		"hostname1.example.org:1234:hbase", // root missing leading slash
		"hostname1.example.org:1234:/",     // root is bare slash
		"hostname1.example.org:/hbase",     // two fields only
		"hostname1.example.org::/hbase",    // empty port
		":1234:/hbase",                     // empty host list
		"host1,,host2:1234:/hbase",         // empty host entry
		"hostname1.example.org:port:/foo",  // non-numeric port
		"hostname1.example.org:0:/foo",     // port out of range
	}
	for _, key := range invalid {
		if err := ValidateClusterKey(key); err == nil {
			t.Errorf("ValidateClusterKey(%q) = nil, want error", key)
		}
	}
}

func TestValidateStructDomainTags(t *testing.T) {
	type request struct {
		PeerID     string `validate:"required,peerid"`
		ClusterKey string `validate:"required,clusterkey"`
	}

	ok := request{PeerID: "1", ClusterKey: "zk1:2181:/hbase"}
	if err := ValidateStruct(ok); err != nil {
		t.Errorf("expected valid request, got %v", err)
	}

	badID := request{PeerID: "bad-id", ClusterKey: "zk1:2181:/hbase"}
	err := ValidateStruct(badID)
	if err == nil || !strings.Contains(err.Error(), "peer id") {
		t.Errorf("expected peer id error, got %v", err)
	}

	badKey := request{PeerID: "1", ClusterKey: "zk1:2181:hbase"}
	err = ValidateStruct(badKey)
	if err == nil || !strings.Contains(err.Error(), "cluster key") {
		t.Errorf("expected cluster key error, got %v", err)
	}

	missing := request{ClusterKey: "zk1:2181:/hbase"}
	err = ValidateStruct(missing)
	if err == nil || !strings.Contains(err.Error(), "required") {
		t.Errorf("expected required error, got %v", err)
	}
}

func TestValidateTableFilters(t *testing.T) {
	ok := map[string][]string{
		"ns.table1": {"cf1", "cf2"},
		"table2":    nil, // nil means all column families
	}
	if err := ValidateTableFilters(ok); err != nil {
		t.Errorf("expected valid filters, got %v", err)
	}

	if err := ValidateTableFilters(map[string][]string{"": {"cf"}}); err == nil {
		t.Error("expected error for empty table name")
	}
	if err := ValidateTableFilters(map[string][]string{"t": {""}}); err == nil {
		t.Error("expected error for empty column family")
	}
}
