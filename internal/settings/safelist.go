package settings

import "fmt"

type entry struct {
	Key  string
	Name string
	Kind Kind
	set  func(*State, Value) error
}

func strSetter(f func(*State) *string) func(*State, Value) error {
	return func(s *State, v Value) error { *f(s) = v.Str; return nil }
}

func boolSetter(f func(*State) *bool) func(*State, Value) error {
	return func(s *State, v Value) error { *f(s) = v.Bool; return nil }
}

func scalarSetter(f func(*State) *float64) func(*State, Value) error {
	return func(s *State, v Value) error { *f(s) = v.Scalar; return nil }
}

func setAdminUIDs(s *State, v Value) error {
	uids := make([]string, 0, len(v.Array))
	for i, item := range v.Array {
		uid, ok := item.(string)
		if !ok {
			return fmt.Errorf("element %d: want STRING got %s", i, kindOf(item))
		}
		uids = append(uids, uid)
	}
	s.TerritoryAdminUIDs = uids
	return nil
}

// safelist is the complete set of keys the server reads from a settings
// blob, in external key order.
var safelist = []entry{
	{"build_number", "ESM_BuildNumber", KindString, strSetter(func(s *State) *string { return &s.BuildNumber })},
	{"community_id", "ESM_CommunityID", KindString, strSetter(func(s *State) *string { return &s.CommunityID })},
	{"extdb_version", "ESM_ExtDBVersion", KindScalar, scalarSetter(func(s *State) *float64 { return &s.ExtDBVersion })},
	{"gambling_locker_limit_enabled", "ESM_Gambling_LockerLimitEnabled", KindBool, boolSetter(func(s *State) *bool { return &s.Gambling.LockerLimitEnabled })},
	{"gambling_modifier", "ESM_Gambling_Modifier", KindScalar, scalarSetter(func(s *State) *float64 { return &s.Gambling.Modifier })},
	{"gambling_payout_base", "ESM_Gambling_PayoutBase", KindScalar, scalarSetter(func(s *State) *float64 { return &s.Gambling.PayoutBase })},
	{"gambling_payout_randomizer_max", "ESM_Gambling_PayoutRandomizerMax", KindScalar, scalarSetter(func(s *State) *float64 { return &s.Gambling.RandomizerMax })},
	{"gambling_payout_randomizer_mid", "ESM_Gambling_PayoutRandomizerMid", KindScalar, scalarSetter(func(s *State) *float64 { return &s.Gambling.RandomizerMid })},
	{"gambling_payout_randomizer_min", "ESM_Gambling_PayoutRandomizerMin", KindScalar, scalarSetter(func(s *State) *float64 { return &s.Gambling.RandomizerMin })},
	{"gambling_win_percentage", "ESM_Gambling_WinPercentage", KindScalar, scalarSetter(func(s *State) *float64 { return &s.Gambling.WinPercentage })},
	{"logging_add_player_to_territory", "ESM_Logging_AddPlayerToTerritory", KindBool, boolSetter(func(s *State) *bool { return &s.Logging.AddPlayerToTerritory })},
	{"logging_channel_id", "ESM_LoggingChannelID", KindString, strSetter(func(s *State) *string { return &s.LoggingChannelID })},
	{"logging_demote_player", "ESM_Logging_DemotePlayer", KindBool, boolSetter(func(s *State) *bool { return &s.Logging.DemotePlayer })},
	{"logging_exec", "ESM_Logging_Exec", KindBool, boolSetter(func(s *State) *bool { return &s.Logging.Exec })},
	{"logging_gamble", "ESM_Logging_Gamble", KindBool, boolSetter(func(s *State) *bool { return &s.Logging.Gamble })},
	{"logging_modify_player", "ESM_Logging_ModifyPlayer", KindBool, boolSetter(func(s *State) *bool { return &s.Logging.ModifyPlayer })},
	{"logging_pay_territory", "ESM_Logging_PayTerritory", KindBool, boolSetter(func(s *State) *bool { return &s.Logging.PayTerritory })},
	{"logging_promote_player", "ESM_Logging_PromotePlayer", KindBool, boolSetter(func(s *State) *bool { return &s.Logging.PromotePlayer })},
	{"logging_remove_player_from_territory", "ESM_Logging_RemovePlayerFromTerritory", KindBool, boolSetter(func(s *State) *bool { return &s.Logging.RemovePlayerFromTerritory })},
	{"logging_reward_player", "ESM_Logging_RewardPlayer", KindBool, boolSetter(func(s *State) *bool { return &s.Logging.RewardPlayer })},
	{"logging_transfer_poptabs", "ESM_Logging_TransferPoptabs", KindBool, boolSetter(func(s *State) *bool { return &s.Logging.TransferPoptabs })},
	{"logging_upgrade_territory", "ESM_Logging_UpgradeTerritory", KindBool, boolSetter(func(s *State) *bool { return &s.Logging.UpgradeTerritory })},
	{"server_id", "ESM_ServerID", KindString, strSetter(func(s *State) *string { return &s.ServerID })},
	{"taxes_territory_payment", "ESM_Taxes_TerritoryPayment", KindScalar, scalarSetter(func(s *State) *float64 { return &s.Taxes.TerritoryPayment })},
	{"taxes_territory_upgrade", "ESM_Taxes_TerritoryUpgrade", KindScalar, scalarSetter(func(s *State) *float64 { return &s.Taxes.TerritoryUpgrade })},
	{"territory_admin_uids", "ESM_TerritoryAdminUIDs", KindArray, setAdminUIDs},
	{"version", "ESM_Version", KindString, strSetter(func(s *State) *string { return &s.Version })},
}

var byKey = map[string]entry{}

func init() {
	names := map[string]bool{}
	for _, e := range safelist {
		if _, dup := byKey[e.Key]; dup {
			panic("settings: duplicate safelist key " + e.Key)
		}
		if names[e.Name] {
			panic("settings: duplicate safelist name " + e.Name)
		}
		if e.set == nil {
			panic("settings: no setter for " + e.Key)
		}
		switch e.Kind {
		case KindString, KindBool, KindScalar, KindArray:
		default:
			panic("settings: bad kind for " + e.Key)
		}
		byKey[e.Key] = e
		names[e.Name] = true
	}
}

// Keys lists the safelisted external keys in table order.
func Keys() []string {
	out := make([]string, 0, len(safelist))
	for _, e := range safelist {
		out = append(out, e.Key)
	}
	return out
}

// InternalName maps an external key onto its internal name.
func InternalName(key string) (string, bool) {
	e, ok := byKey[key]
	return e.Name, ok
}

// Snapshot renders the state as internal name to Value, for admin dumps.
func Snapshot(s *State) []Value {
	out := make([]Value, 0, len(safelist))
	for _, e := range safelist {
		v := Value{Name: e.Name, Kind: e.Kind}
		switch e.Key {
		case "build_number":
			v.Str = s.BuildNumber
		case "community_id":
			v.Str = s.CommunityID
		case "extdb_version":
			v.Scalar = s.ExtDBVersion
		case "gambling_locker_limit_enabled":
			v.Bool = s.Gambling.LockerLimitEnabled
		case "gambling_modifier":
			v.Scalar = s.Gambling.Modifier
		case "gambling_payout_base":
			v.Scalar = s.Gambling.PayoutBase
		case "gambling_payout_randomizer_max":
			v.Scalar = s.Gambling.RandomizerMax
		case "gambling_payout_randomizer_mid":
			v.Scalar = s.Gambling.RandomizerMid
		case "gambling_payout_randomizer_min":
			v.Scalar = s.Gambling.RandomizerMin
		case "gambling_win_percentage":
			v.Scalar = s.Gambling.WinPercentage
		case "logging_add_player_to_territory":
			v.Bool = s.Logging.AddPlayerToTerritory
		case "logging_channel_id":
			v.Str = s.LoggingChannelID
		case "logging_demote_player":
			v.Bool = s.Logging.DemotePlayer
		case "logging_exec":
			v.Bool = s.Logging.Exec
		case "logging_gamble":
			v.Bool = s.Logging.Gamble
		case "logging_modify_player":
			v.Bool = s.Logging.ModifyPlayer
		case "logging_pay_territory":
			v.Bool = s.Logging.PayTerritory
		case "logging_promote_player":
			v.Bool = s.Logging.PromotePlayer
		case "logging_remove_player_from_territory":
			v.Bool = s.Logging.RemovePlayerFromTerritory
		case "logging_reward_player":
			v.Bool = s.Logging.RewardPlayer
		case "logging_transfer_poptabs":
			v.Bool = s.Logging.TransferPoptabs
		case "logging_upgrade_territory":
			v.Bool = s.Logging.UpgradeTerritory
		case "server_id":
			v.Str = s.ServerID
		case "taxes_territory_payment":
			v.Scalar = s.Taxes.TerritoryPayment
		case "taxes_territory_upgrade":
			v.Scalar = s.Taxes.TerritoryUpgrade
		case "territory_admin_uids":
			items := make([]any, len(s.TerritoryAdminUIDs))
			for i, u := range s.TerritoryAdminUIDs {
				items[i] = u
			}
			v.Array = items
		case "version":
			v.Str = s.Version
		}
		out = append(out, v)
	}
	return out
}
