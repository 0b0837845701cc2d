package config

import "testing"

func TestSuperAdminsSplitsCommasAndWhitespace(t *testing.T) {
	a := Auth{SuperAdminIDs: "111, 222\n333  444"}
	set := a.SuperAdmins()
	if len(set) != 4 {
		t.Fatalf("len = %d, want 4", len(set))
	}
	for _, id := range []string{"111", "222", "333", "444"} {
		if _, ok := set[id]; !ok {
			t.Errorf("missing %s", id)
		}
	}
}

func TestSuperAdminsEmpty(t *testing.T) {
	a := Auth{}
	if set := a.SuperAdmins(); len(set) != 0 {
		t.Fatalf("set = %v, want empty", set)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	if cfg.Auth.SessionHours != 24 {
		t.Errorf("SessionHours = %d, want 24", cfg.Auth.SessionHours)
	}
	if cfg.Identity.APIBase == "" {
		t.Error("APIBase not defaulted")
	}
	if cfg.SiteName == "" {
		t.Error("SiteName not defaulted")
	}
}

func TestValidateRejectsMissingSecret(t *testing.T) {
	cfg := &Config{}
	cfg.HTTP.ListenAddr = ":8080"
	cfg.Registry.Path = "conf/servers_config.json"
	if err := validateStruct(cfg); err == nil {
		t.Fatal("expected validation error for empty jwt_secret")
	}
}
