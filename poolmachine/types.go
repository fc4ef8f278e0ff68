package poolmachine

type Account = string

type S256Hash = string

// BlockHeader is the externally supplied clock. Every time-gated rule in the
// custody machine compares a stored threshold against the height of the block
// currently being processed.
type BlockHeader struct {
	Hash   string `json:"Hash"`
	Time   int64  `json:"Time"`
	Height int64  `json:"Height"`
}

type Wallet struct {
	PrivateKey string
	SeedWords  string
	Account    Account
}

const (
	AssetNative   = "native"
	AssetFungible = "fungible"
)

// Asset tags the custody mechanism a pool settles in: the native asset, or a
// fungible asset keyed by identifier.
type Asset struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
}

func NativeAsset() Asset {
	return Asset{Kind: AssetNative}
}

func FungibleAsset(id string) Asset {
	return Asset{Kind: AssetFungible, ID: id}
}

func (a Asset) Equal(b Asset) bool {
	return a.Kind == b.Kind && a.ID == b.ID
}

func (a Asset) String() string {
	if a.Kind == AssetFungible {
		return AssetFungible + ":" + a.ID
	}
	return AssetNative
}

// StateChange is emitted on every state-changing success so that external
// observers and indexers can follow the machine without polling it.
type StateChange struct {
	Name       string
	GoalID     int64
	Actor      Account
	Height     int64
	Attributes map[string]string
}

type Emitter interface {
	Emit(StateChange)
}
