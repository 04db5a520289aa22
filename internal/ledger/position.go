package ledger

import "time"

// PositionKey addresses one side of a user's position in one asset.
type PositionKey struct {
	Asset AssetID
	User  UserID
}

// Record is one deposit or borrow balance. Amount is 1e8 fixed-point and
// never negative; reduce operations clamp or reject before underflow.
//
// Borrow records additionally remember the collateral asset named when the
// borrow was opened: each borrow is evaluated only against that one asset,
// never against the user's aggregate collateral. A later borrow call naming a
// different collateral asset rebinds the pair.
type Record struct {
	Amount     int64
	LastUpdate time.Time
	Collateral AssetID
}

// Clone returns a copy safe to stage inside an uncommitted transaction.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}

// IsEmpty reports whether the record holds no balance. Positions never close
// explicitly; they are implicitly empty at zero.
func (r *Record) IsEmpty() bool {
	return r.Amount == 0
}

// Book holds every (asset, user) deposit and borrow record. Records are
// created lazily on first deposit/borrow and kept at zero thereafter.
// Not safe for concurrent use; serialized by the orchestrator.
type Book struct {
	deposits map[PositionKey]*Record
	borrows  map[PositionKey]*Record
}

func NewBook() *Book {
	return &Book{
		deposits: make(map[PositionKey]*Record),
		borrows:  make(map[PositionKey]*Record),
	}
}

// Deposit returns the deposit record for (asset, user), or a zero record if
// none exists yet. The returned record is live; callers that stage mutations
// must Clone first.
func (b *Book) Deposit(asset AssetID, user UserID) *Record {
	if r, ok := b.deposits[PositionKey{asset, user}]; ok {
		return r
	}
	return &Record{}
}

// Borrow returns the borrow record for (asset, user), or a zero record.
func (b *Book) Borrow(asset AssetID, user UserID) *Record {
	if r, ok := b.borrows[PositionKey{asset, user}]; ok {
		return r
	}
	return &Record{}
}

// PutDeposit writes a staged deposit record back at commit.
func (b *Book) PutDeposit(asset AssetID, user UserID, r *Record) {
	b.deposits[PositionKey{asset, user}] = r
}

// PutBorrow writes a staged borrow record back at commit.
func (b *Book) PutBorrow(asset AssetID, user UserID, r *Record) {
	b.borrows[PositionKey{asset, user}] = r
}

// UserPositions lists every non-empty record a user holds, for read queries.
type UserPosition struct {
	Asset      AssetID   `json:"asset"`
	Deposited  int64     `json:"deposited"`
	Borrowed   int64     `json:"borrowed"`
	DepositUpd time.Time `json:"deposit_updated"`
	BorrowUpd  time.Time `json:"borrow_updated"`
}

func (b *Book) UserPositions(user UserID) []UserPosition {
	byAsset := make(map[AssetID]*UserPosition)
	for k, r := range b.deposits {
		if k.User != user || r.Amount == 0 {
			continue
		}
		p := byAsset[k.Asset]
		if p == nil {
			p = &UserPosition{Asset: k.Asset}
			byAsset[k.Asset] = p
		}
		p.Deposited = r.Amount
		p.DepositUpd = r.LastUpdate
	}
	for k, r := range b.borrows {
		if k.User != user || r.Amount == 0 {
			continue
		}
		p := byAsset[k.Asset]
		if p == nil {
			p = &UserPosition{Asset: k.Asset}
			byAsset[k.Asset] = p
		}
		p.Borrowed = r.Amount
		p.BorrowUpd = r.LastUpdate
	}
	out := make([]UserPosition, 0, len(byAsset))
	for _, p := range byAsset {
		out = append(out, *p)
	}
	return out
}

// DepositEntries and BorrowEntries expose the full book for snapshots.
func (b *Book) DepositEntries() map[PositionKey]*Record { return b.deposits }
func (b *Book) BorrowEntries() map[PositionKey]*Record  { return b.borrows }
