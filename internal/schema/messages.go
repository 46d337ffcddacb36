package schema

import "github.com/itsthedevman/esm-arma/internal/protocol"

// Module tags.
const (
	ModuleTerritory = "system_territory"
	ModuleSystem    = "esm_system"
)

// Request names.
const (
	PayTerritory              = "payTerritoryRequest"
	UpgradeTerritory          = "upgradeTerritoryRequest"
	PromotePlayer             = "promotePlayerRequest"
	DemotePlayer              = "demotePlayerRequest"
	AddPlayerToTerritory      = "addPlayerToTerritoryRequest"
	RemovePlayerFromTerritory = "removePlayerFromTerritoryRequest"
	FlagStealStarted          = "flagStealStartedRequest"
	Gamble                    = "gambleRequest"
	TransferPoptabs           = "transferPoptabsRequest"
	ModifyPlayer              = "modifyPlayerRequest"
	RewardPlayer              = "rewardPlayerRequest"
	RewardLoadAll             = "rewardLoadAllRequest"
	RewardRedeemItem          = "rewardRedeemItemRequest"
	RewardRedeemVehicle       = "rewardRedeemVehicleRequest"
	Exec                      = "execRequest"
)

func str(name string) Param    { return Param{Name: name, Type: protocol.ParamString} }
func scalar(name string) Param { return Param{Name: name, Type: protocol.ParamScalar} }
func boolean(name string) Param {
	return Param{Name: name, Type: protocol.ParamBool}
}
func object(name string) Param { return Param{Name: name, Type: protocol.ParamObject} }
func array(name string) Param  { return Param{Name: name, Type: protocol.ParamArray} }

type pair struct {
	module string
	base   string
	req    []Param
	resp   []Param
}

var table = []pair{
	{ModuleTerritory, "payTerritory",
		[]Param{str("territory_id")},
		[]Param{str("territory_id"), scalar("amount_paid"), scalar("tax"), scalar("locker_balance")}},
	{ModuleTerritory, "upgradeTerritory",
		[]Param{str("territory_id")},
		[]Param{str("territory_id"), scalar("new_level"), scalar("amount_paid"), scalar("tax"), scalar("locker_balance")}},
	{ModuleTerritory, "promotePlayer",
		[]Param{str("territory_id"), str("target_uid")},
		[]Param{str("territory_id"), str("target_uid"), str("role")}},
	{ModuleTerritory, "demotePlayer",
		[]Param{str("territory_id"), str("target_uid")},
		[]Param{str("territory_id"), str("target_uid"), str("role")}},
	{ModuleTerritory, "addPlayerToTerritory",
		[]Param{str("territory_id"), str("target_uid")},
		[]Param{str("territory_id"), str("target_uid"), str("role")}},
	{ModuleTerritory, "removePlayerFromTerritory",
		[]Param{str("territory_id"), str("target_uid")},
		[]Param{str("territory_id"), str("target_uid")}},
	{ModuleTerritory, "flagStealStarted",
		[]Param{object("flag")},
		[]Param{str("territory_id"), scalar("notified")}},
	{ModuleSystem, "gamble",
		[]Param{scalar("wager")},
		[]Param{boolean("won"), scalar("wager"), scalar("payout"), scalar("locker_balance")}},
	{ModuleSystem, "transferPoptabs",
		[]Param{str("target_uid"), scalar("amount")},
		[]Param{str("target_uid"), scalar("amount"), scalar("locker_balance")}},
	{ModuleSystem, "modifyPlayer",
		[]Param{str("target_uid"), scalar("money_delta"), scalar("locker_delta"), scalar("respect_delta")},
		[]Param{str("target_uid"), scalar("money"), scalar("locker"), scalar("respect")}},
	{ModuleSystem, "rewardPlayer",
		[]Param{str("target_uid"), str("reward_type"), str("classname"), scalar("quantity"), scalar("expires_in_seconds")},
		[]Param{str("reward_code"), str("pin_code")}},
	{ModuleSystem, "rewardLoadAll",
		nil,
		[]Param{array("rewards")}},
	{ModuleSystem, "rewardRedeemItem",
		[]Param{str("reward_code"), str("container_type"), str("container_net_id")},
		[]Param{str("reward_code"), str("reward_type"), str("classname_or_empty"), scalar("quantity"), scalar("container_type"), str("vehicle_net_id_or_empty")}},
	{ModuleSystem, "rewardRedeemVehicle",
		[]Param{str("classname"), str("pin_code")},
		[]Param{str("reward_code"), str("classname"), str("vehicle_net_id")}},
	{ModuleSystem, "exec",
		[]Param{str("code"), str("execute_on")},
		[]Param{str("result")}},
}

// Default builds the registry of every message this server speaks.
func Default() *Registry {
	r := NewRegistry()
	for _, p := range table {
		if err := r.AddPair(p.module, p.base, p.req, p.resp); err != nil {
			panic(err)
		}
	}
	return r
}
