package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffeechain/pkg/ledger"
)

type fakeLedger struct {
	mu       sync.Mutex
	batches  map[int64]*ledger.Batch
	calls    []string
	getErr   map[int64]error
	sendErr  error
	nextID   int64
	mineWait time.Duration
}

func newFakeLedger(stages ...uint8) *fakeLedger {
	f := &fakeLedger{batches: make(map[int64]*ledger.Batch), getErr: make(map[int64]error)}
	for i, st := range stages {
		id := int64(i + 1)
		f.batches[id] = &ledger.Batch{
			ID:        big.NewInt(id),
			Origin:    fmt.Sprintf("Farm %d", id),
			Stage:     st,
			Inventory: big.NewInt(100 * id),
			Timestamp: big.NewInt(1700000000 + id),
		}
	}
	f.nextID = int64(len(stages)) + 1
	return f
}

func (f *fakeLedger) log(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeLedger) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeLedger) receipt(events ...ledger.Event) *ledger.Receipt {
	return &ledger.Receipt{
		TxHash:            common.HexToHash("0xabc"),
		BlockHash:         common.HexToHash("0xdef"),
		BlockNumber:       big.NewInt(12),
		TransactionIndex:  0,
		From:              common.HexToAddress("0x1"),
		To:                common.HexToAddress("0x2"),
		GasUsed:           48211,
		CumulativeGasUsed: 48211,
		EffectiveGasPrice: big.NewInt(20_000_000_000),
		Status:            1,
		Events:            events,
	}
}

func (f *fakeLedger) CreateBatch(_ context.Context, origin string, inventory *big.Int) (*ledger.Receipt, error) {
	f.log("CreateBatch:%s:%s", origin, inventory)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.batches[id] = &ledger.Batch{ID: big.NewInt(id), Origin: origin, Inventory: inventory, Timestamp: big.NewInt(1700000000)}
	f.mu.Unlock()
	return f.receipt(ledger.Event{Name: "BatchCreated", BatchID: big.NewInt(id)}), nil
}

func (f *fakeLedger) UpdateStage(_ context.Context, id *big.Int, stage uint8) (*ledger.Receipt, error) {
	f.log("UpdateStage:%s:%d", id, stage)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.receipt(ledger.Event{Name: "StageUpdated", BatchID: id}), nil
}

func (f *fakeLedger) UpdateInventory(_ context.Context, id, inventory *big.Int) (*ledger.Receipt, error) {
	f.log("UpdateInventory:%s:%s", id, inventory)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.receipt(ledger.Event{Name: "InventoryUpdated", BatchID: id}), nil
}

func (f *fakeLedger) DistributeBatch(_ context.Context, id *big.Int, distributor string) (*ledger.Receipt, error) {
	f.log("DistributeBatch:%s:%s", id, distributor)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	time.Sleep(f.mineWait)
	f.mu.Lock()
	if b, ok := f.batches[id.Int64()]; ok {
		b.Stage = uint8(StageDistributed)
		b.Distributor = distributor
	}
	f.mu.Unlock()
	return f.receipt(ledger.Event{Name: "BatchDistributed", BatchID: id}), nil
}

func (f *fakeLedger) GetBatch(_ context.Context, id *big.Int) (*ledger.Batch, error) {
	f.log("GetBatch:%s", id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.getErr[id.Int64()]; err != nil {
		return nil, err
	}
	b, ok := f.batches[id.Int64()]
	if !ok {
		return nil, &ledger.CallError{Method: ledger.MethodGetBatch, Reason: "Batch does not exist", Err: errors.New("execution reverted")}
	}
	cp := *b
	return &cp, nil
}

func (f *fakeLedger) GetBatchCount(context.Context) (*big.Int, error) {
	f.log("GetBatchCount")
	f.mu.Lock()
	defer f.mu.Unlock()
	return big.NewInt(int64(len(f.batches))), nil
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []Submission
}

func (j *fakeJournal) Record(_ context.Context, s Submission) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func toJSONMap(t *testing.T, v any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestDistributeBatchScenario(t *testing.T) {
	fl := newFakeLedger(0, 3, 4)
	svc := NewService(fl)
	ctx := context.Background()

	_, err := svc.DistributeBatch(ctx, DistributeBatchInput{ID: Int(1), Distributor: Segment("Acme")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
	assert.Contains(t, Message(err), "currently 0")
	assert.Equal(t, []string{"GetBatch:1"}, fl.recorded())

	receipt, err := svc.DistributeBatch(ctx, DistributeBatchInput{ID: Int(2), Distributor: Segment("Acme")})
	require.NoError(t, err)
	body := toJSONMap(t, receipt)
	assert.Equal(t, "48211", body["gasUsed"])
	assert.Equal(t, "12", body["blockNumber"])
	assert.Equal(t, "20000000000", body["effectiveGasPrice"])
	assert.Equal(t, "1", body["status"])
	assert.EqualValues(t, 2, body["batchId"])

	before := len(fl.recorded())
	_, err = svc.DistributeBatch(ctx, DistributeBatchInput{ID: Int(2), Distributor: Segment("")})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = svc.DistributeBatch(ctx, DistributeBatchInput{ID: Int(2), Distributor: Segment("   ")})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = svc.DistributeBatch(ctx, DistributeBatchInput{ID: Int(2)})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Len(t, fl.recorded(), before, "invalid input never reaches the ledger")
}

func TestDistributeRequiresPackagedStage(t *testing.T) {
	for _, stage := range []uint8{0, 1, 2, 4, 9} {
		t.Run(Stage(stage).String(), func(t *testing.T) {
			fl := newFakeLedger(stage)
			svc := NewService(fl)

			_, err := svc.DistributeBatch(context.Background(), DistributeBatchInput{ID: Segment("1"), Distributor: Segment("Acme")})
			require.Error(t, err)
			assert.True(t, IsPreconditionFailed(err))
			assert.Equal(t, fmt.Sprintf("Batch must be in Packaged state (currently %d)", stage), Message(err))
			for _, call := range fl.recorded() {
				assert.NotContains(t, call, "DistributeBatch")
			}
		})
	}
}

func TestDistributeSubmitsTrimmedDistributor(t *testing.T) {
	fl := newFakeLedger(3)
	svc := NewService(fl)

	_, err := svc.DistributeBatch(context.Background(), DistributeBatchInput{ID: Arg(`"1"`), Distributor: Segment("  Acme Roasters \n")})
	require.NoError(t, err)
	assert.Equal(t, []string{"GetBatch:1", "DistributeBatch:1:Acme Roasters"}, fl.recorded())
}

func TestConcurrentDistributeIsSerializedPerBatch(t *testing.T) {
	fl := newFakeLedger(3)
	fl.mineWait = 20 * time.Millisecond
	svc := NewService(fl)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.DistributeBatch(context.Background(), DistributeBatchInput{ID: Int(1), Distributor: Segment(fmt.Sprintf("D%d", i))})
		}(i)
	}
	wg.Wait()

	var ok, refused int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case IsPreconditionFailed(err):
			refused++
			assert.Contains(t, Message(err), "currently 4")
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, refused)
}

func TestDistributeLockTimeoutIsLedgerFailure(t *testing.T) {
	fl := newFakeLedger(0, 3)
	locks := NewKeyedMutex()
	svc := NewService(fl, WithLocker(locks))

	unlock, err := locks.Lock(context.Background(), "batch:2")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = svc.DistributeBatch(ctx, DistributeBatchInput{ID: Int(2), Distributor: Segment("Acme")})
	require.Error(t, err)

	var berr *Error
	require.ErrorAs(t, err, &berr)
	assert.ErrorIs(t, err, ErrLedgerCallFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, OpDistributeBatch, berr.Op)
	assert.Contains(t, Message(err), "unable to lock batch 2")
	assert.Empty(t, fl.recorded(), "nothing reaches the ledger without the lock")
}

func TestDistributeLockStoreOutageIsLedgerFailure(t *testing.T) {
	fl := newFakeLedger(0, 3)
	fr := newFakeRedis()
	fr.setErr = errors.New("dial tcp 127.0.0.1:6379: connection refused")
	svc := NewService(fl, WithLocker(NewRedisLocker(fr, time.Minute, nil)))

	_, err := svc.DistributeBatch(context.Background(), DistributeBatchInput{ID: Int(2), Distributor: Segment("Acme")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLedgerCallFailed)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, Message(err), "connection refused")
	assert.Empty(t, fl.recorded())
}

func TestUpdateInventoryRejectsNonNumericInput(t *testing.T) {
	cases := []struct {
		name string
		in   UpdateInventoryInput
	}{
		{"non-numeric id", UpdateInventoryInput{ID: Segment("abc"), Inventory: Int(5)}},
		{"word inventory", UpdateInventoryInput{ID: Int(2), Inventory: Arg(`"five"`)}},
		{"quoted number inventory", UpdateInventoryInput{ID: Int(2), Inventory: Arg(`"5"`)}},
		{"negative inventory", UpdateInventoryInput{ID: Int(2), Inventory: Arg(`-1`)}},
		{"fractional inventory", UpdateInventoryInput{ID: Int(2), Inventory: Arg(`2.5`)}},
		{"missing inventory", UpdateInventoryInput{ID: Int(2)}},
		{"zero id", UpdateInventoryInput{ID: Int(0), Inventory: Int(5)}},
		{"boolean inventory", UpdateInventoryInput{ID: Int(2), Inventory: Arg(`true`)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fl := newFakeLedger(0, 0)
			svc := NewService(fl)

			_, err := svc.UpdateInventory(context.Background(), tc.in)
			require.Error(t, err)
			assert.True(t, IsInvalidArgument(err))
			assert.Empty(t, fl.recorded())
		})
	}
}

func TestUpdateInventoryDelegates(t *testing.T) {
	fl := newFakeLedger(0, 0)
	svc := NewService(fl)

	_, err := svc.UpdateInventory(context.Background(), UpdateInventoryInput{ID: Segment("2"), Inventory: Arg(`1e2`)})
	require.NoError(t, err)
	assert.Equal(t, []string{"UpdateInventory:2:100"}, fl.recorded())
}

func TestCreateBatchValidation(t *testing.T) {
	cases := []struct {
		name string
		in   CreateBatchInput
	}{
		{"empty origin", CreateBatchInput{Origin: Segment(""), Inventory: Int(10)}},
		{"blank origin", CreateBatchInput{Origin: Segment(" \t"), Inventory: Int(10)}},
		{"missing origin", CreateBatchInput{Inventory: Int(10)}},
		{"numeric origin", CreateBatchInput{Origin: Arg(`42`), Inventory: Int(10)}},
		{"string inventory", CreateBatchInput{Origin: Segment("Kenya"), Inventory: Arg(`"10"`)}},
		{"missing inventory", CreateBatchInput{Origin: Segment("Kenya")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fl := newFakeLedger()
			svc := NewService(fl)

			_, err := svc.CreateBatch(context.Background(), tc.in)
			assert.ErrorIs(t, err, ErrInvalidArgument)
			assert.Empty(t, fl.recorded())
		})
	}
}

func TestCreateBatchNormalizesOriginAndReportsID(t *testing.T) {
	fl := newFakeLedger(0)
	svc := NewService(fl)

	receipt, err := svc.CreateBatch(context.Background(), CreateBatchInput{Origin: Segment("  Café Huila "), Inventory: Int(250)})
	require.NoError(t, err)
	assert.Equal(t, []string{"CreateBatch:Café Huila:250"}, fl.recorded())
	require.NotNil(t, receipt.BatchID)
	assert.Equal(t, "2", receipt.BatchID.String())
	require.Len(t, receipt.Events, 1)
	assert.Equal(t, "BatchCreated", receipt.Events[0].Name)
}

func TestUpdateStageAcceptsNumbersAndNumericStrings(t *testing.T) {
	cases := []struct {
		stage Arg
		want  string
	}{
		{Int(3), "UpdateStage:1:3"},
		{Arg(`"2"`), "UpdateStage:1:2"},
		{Arg(`7`), "UpdateStage:1:7"},
		{Arg(`255`), "UpdateStage:1:255"},
	}
	for _, tc := range cases {
		fl := newFakeLedger(0)
		svc := NewService(fl)

		_, err := svc.UpdateStage(context.Background(), UpdateStageInput{ID: Int(1), Stage: tc.stage})
		require.NoError(t, err, string(tc.stage))
		assert.Equal(t, []string{tc.want}, fl.recorded())
	}
}

func TestUpdateStageRejectsInvalidInput(t *testing.T) {
	for _, in := range []UpdateStageInput{
		{ID: Int(1), Stage: Arg(`"roasted"`)},
		{ID: Int(1), Stage: Arg(`256`)},
		{ID: Int(1), Stage: Arg(`-1`)},
		{ID: Int(1), Stage: Arg(`1.5`)},
		{ID: Int(1)},
		{ID: Segment("x1"), Stage: Int(1)},
		{ID: Arg(`{}`), Stage: Int(1)},
	} {
		fl := newFakeLedger(0)
		svc := NewService(fl)

		_, err := svc.UpdateStage(context.Background(), in)
		assert.ErrorIs(t, err, ErrInvalidArgument, "%+v", in)
		assert.Empty(t, fl.recorded())
	}
}

func TestLedgerFailureCarriesRevertReason(t *testing.T) {
	fl := newFakeLedger(0)
	fl.sendErr = &ledger.CallError{Method: ledger.MethodUpdateStage, Reason: "Invalid stage", Err: ledger.ErrReverted}
	journal := &fakeJournal{}
	svc := NewService(fl, WithJournal(journal))

	_, err := svc.UpdateStage(context.Background(), UpdateStageInput{ID: Int(1), Stage: Int(9)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLedgerCallFailed)
	assert.ErrorIs(t, err, ledger.ErrReverted)
	assert.Equal(t, "Invalid stage", Message(err))

	var callErr *ledger.CallError
	assert.ErrorAs(t, err, &callErr)

	require.Len(t, journal.entries, 1)
	assert.Equal(t, OpUpdateStage, journal.entries[0].Operation)
	assert.Error(t, journal.entries[0].Err)
	assert.False(t, journal.entries[0].At.IsZero())
}

func TestJournalRecordsEverySubmission(t *testing.T) {
	fl := newFakeLedger(3)
	journal := &fakeJournal{}
	svc := NewService(fl, WithJournal(journal))
	ctx := context.Background()

	_, err := svc.CreateBatch(ctx, CreateBatchInput{Origin: Segment("Brazil"), Inventory: Int(5)})
	require.NoError(t, err)
	_, err = svc.UpdateInventory(ctx, UpdateInventoryInput{ID: Int(1), Inventory: Int(4)})
	require.NoError(t, err)
	_, err = svc.DistributeBatch(ctx, DistributeBatchInput{ID: Int(1), Distributor: Segment("Acme")})
	require.NoError(t, err)
	_, err = svc.GetBatch(ctx, Int(1))
	require.NoError(t, err)

	require.Len(t, journal.entries, 3, "reads are not journaled")
	assert.Equal(t, OpCreateBatch, journal.entries[0].Operation)
	assert.Equal(t, big.NewInt(2), journal.entries[0].BatchID)
	assert.Equal(t, `origin="Brazil" inventory=5`, journal.entries[0].Params)
	assert.Equal(t, OpUpdateInventory, journal.entries[1].Operation)
	assert.Equal(t, OpDistributeBatch, journal.entries[2].Operation)
	assert.NotNil(t, journal.entries[2].Receipt)
}

func TestGetBatchNormalizesFields(t *testing.T) {
	fl := newFakeLedger(3)
	huge, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)
	fl.batches[1].Inventory = huge
	svc := NewService(fl)

	b, err := svc.GetBatch(context.Background(), Segment("1"))
	require.NoError(t, err)
	body := toJSONMap(t, b)
	assert.EqualValues(t, 1, body["id"])
	assert.EqualValues(t, 3, body["stage"])
	assert.Equal(t, "Packaged", body["stageName"])
	assert.Equal(t, "123456789012345678901234567890", body["inventory"])
	assert.EqualValues(t, 1700000001, body["timestamp"])
	assert.Equal(t, "", body["distributor"])
}

func TestGetBatchRejectsBadID(t *testing.T) {
	fl := newFakeLedger(0)
	svc := NewService(fl)

	for _, id := range []Arg{Segment("abc"), Segment("-3"), Segment("0"), Segment("1.5"), Segment("NaN"), ""} {
		_, err := svc.GetBatch(context.Background(), id)
		assert.ErrorIs(t, err, ErrInvalidArgument, string(id))
	}
	assert.Empty(t, fl.recorded())
}

func TestGetBatchesMatchesGetBatch(t *testing.T) {
	fl := newFakeLedger(0, 3, 4)
	svc := NewService(fl)
	ctx := context.Background()

	all, err := svc.GetBatches(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	for i, b := range all {
		assert.Equal(t, fmt.Sprint(i+1), b.ID.String())
		one, err := svc.GetBatch(ctx, Int(int64(i+1)))
		require.NoError(t, err)
		assert.Equal(t, toJSONMap(t, one), toJSONMap(t, b))
	}
}

func TestGetBatchesEmptyLedger(t *testing.T) {
	svc := NewService(newFakeLedger())

	all, err := svc.GetBatches(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func TestGetBatchesStopsAtFirstFailure(t *testing.T) {
	fl := newFakeLedger(0, 1, 2)
	fl.getErr[2] = errors.New("connection refused")
	svc := NewService(fl)

	_, err := svc.GetBatches(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLedgerCallFailed)
	assert.Contains(t, Message(err), "batch 2")
	assert.Equal(t, []string{"GetBatchCount", "GetBatch:1", "GetBatch:2"}, fl.recorded())
}
