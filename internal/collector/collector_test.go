package collector

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/ppiankov/ec2spectre/internal/ec2"
	"github.com/ppiankov/ec2spectre/internal/org"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)

type mockLister struct {
	mock.Mock
}

func (m *mockLister) ActiveAccounts(ctx context.Context) ([]org.Account, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]org.Account), args.Error(1)
}

type mockDelegator struct {
	mock.Mock
}

func (m *mockDelegator) Delegate(ctx context.Context, accountID, region string) (aws.Config, error) {
	args := m.Called(ctx, accountID, region)
	return args.Get(0).(aws.Config), args.Error(1)
}

type fakeScanner struct {
	region    string
	regions   []string
	instances []ec2.Instance
	volumes   []ec2.Volume
	snapshots ec2.SnapshotSummary
	scanErr   error
	snapErr   error
}

func (f *fakeScanner) Region() string { return f.region }

func (f *fakeScanner) ListRegions(ctx context.Context) ([]string, error) {
	return f.regions, nil
}

func (f *fakeScanner) StoppedInstances(ctx context.Context) ([]ec2.Instance, error) {
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	out := make([]ec2.Instance, len(f.instances))
	for i, inst := range f.instances {
		inst.Region = f.region
		out[i] = inst
	}
	return out, nil
}

func (f *fakeScanner) InstanceVolumes(ctx context.Context, ids []string) ([]ec2.Volume, error) {
	return f.volumes, nil
}

func (f *fakeScanner) Snapshots(ctx context.Context, volumeID string) (ec2.SnapshotSummary, error) {
	return f.snapshots, f.snapErr
}

// scannerSet returns a factory that hands out scanners keyed by account and region.
type scannerSet struct {
	mu       sync.Mutex
	scanners map[string]*fakeScanner
	requests []string
}

func newScannerSet() *scannerSet {
	return &scannerSet{scanners: make(map[string]*fakeScanner)}
}

func (s *scannerSet) add(accountID, region string, sc *fakeScanner) {
	sc.region = region
	s.scanners[accountID+"/"+region] = sc
}

func (s *scannerSet) factory(account org.Account, cfg aws.Config) Scanner {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := account.ID + "/" + cfg.Region
	s.requests = append(s.requests, key)
	if sc, ok := s.scanners[key]; ok {
		return sc
	}
	return &fakeScanner{region: cfg.Region}
}

func stoppedAgo(id string, days int) ec2.Instance {
	launch := now.AddDate(-3, 0, 0)
	reason := "User initiated (" + now.AddDate(0, 0, -days).Format("2006-01-02 15:04:05") + " GMT)"
	return ec2.Instance{ID: id, Type: "t3.micro", StateTransitionReason: &reason, LaunchTime: &launch}
}

var (
	acctA = org.Account{ID: "111111111111", Name: "alpha", Status: org.StatusActive}
	acctB = org.Account{ID: "222222222222", Name: "beta", Status: org.StatusActive}
	acctC = org.Account{ID: "333333333333", Name: "gamma", Status: org.StatusActive}
)

func threeAccountFixture() (*mockLister, *mockDelegator, *scannerSet) {
	lister := &mockLister{}
	lister.On("ActiveAccounts", mock.Anything).Return([]org.Account{acctA, acctB, acctC}, nil)

	delegator := &mockDelegator{}
	delegator.On("Delegate", mock.Anything, acctA.ID, "us-east-1").Return(aws.Config{Region: "us-east-1"}, nil)
	delegator.On("Delegate", mock.Anything, acctB.ID, "us-east-1").Return(aws.Config{}, errors.New("AccessDenied"))
	delegator.On("Delegate", mock.Anything, acctC.ID, "us-east-1").Return(aws.Config{Region: "us-east-1"}, nil)

	scanners := newScannerSet()
	scanners.add(acctA.ID, "us-east-1", &fakeScanner{instances: []ec2.Instance{stoppedAgo("i-a", 10)}})
	scanners.add(acctC.ID, "us-east-1", &fakeScanner{instances: []ec2.Instance{stoppedAgo("i-c", 400)}})
	return lister, delegator, scanners
}

func TestRun_PartialFailureScenario(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		lister, delegator, scanners := threeAccountFixture()
		c := New(lister, delegator, scanners.factory, Config{
			Regions:     []string{"us-east-1"},
			Concurrency: concurrency,
			Now:         func() time.Time { return now },
		}, nil)

		res, err := c.Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 3, res.Summary.TotalAccounts)
		assert.Equal(t, 2, res.Summary.ProcessedAccounts)
		assert.Equal(t, 1, res.Summary.AccountsWithErrors)
		assert.Equal(t, 0, res.Summary.EmptyAccounts)
		assert.Equal(t, 2, res.Summary.TotalStoppedInstances)
		assert.Equal(t, 1, res.Summary.LongStoppedInstances)

		require.Len(t, res.LongStopped, 1)
		assert.Equal(t, "i-c", res.LongStopped[0].InstanceID)
		assert.Equal(t, acctC.ID, res.LongStopped[0].AccountID)
		assert.Equal(t, "gamma", res.LongStopped[0].AccountName)

		require.Len(t, res.Summary.Errors, 1)
		assert.Equal(t, acctB.ID, res.Summary.Errors[0].AccountID)

		ids := []string{res.Instances[0].InstanceID, res.Instances[1].InstanceID}
		assert.Equal(t, []string{"i-a", "i-c"}, ids)
		assert.Equal(t, 10, *res.Instances[0].StoppedDays)
		assert.Equal(t, 400, *res.Instances[1].StoppedDays)

		delegator.AssertNumberOfCalls(t, "Delegate", 3)
	}
}

func TestRun_EnumerationFailureIsFatal(t *testing.T) {
	lister := &mockLister{}
	lister.On("ActiveAccounts", mock.Anything).Return(nil, errors.New("organizations unreachable"))
	delegator := &mockDelegator{}

	_, err := New(lister, delegator, newScannerSet().factory, Config{}, nil).Run(context.Background())
	require.Error(t, err)
	delegator.AssertNotCalled(t, "Delegate", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_ScanFailureIsolatesAccount(t *testing.T) {
	lister := &mockLister{}
	lister.On("ActiveAccounts", mock.Anything).Return([]org.Account{acctA, acctB}, nil)
	delegator := &mockDelegator{}
	delegator.On("Delegate", mock.Anything, mock.Anything, mock.Anything).Return(aws.Config{Region: "eu-west-1"}, nil)

	scanners := newScannerSet()
	scanners.add(acctA.ID, "eu-west-1", &fakeScanner{instances: []ec2.Instance{stoppedAgo("i-ok", 5)}})
	scanners.add(acctA.ID, "eu-central-1", &fakeScanner{scanErr: errors.New("UnauthorizedOperation")})
	scanners.add(acctB.ID, "eu-west-1", &fakeScanner{})

	res, err := New(lister, delegator, scanners.factory, Config{
		Regions: []string{"eu-west-1", "eu-central-1"},
		Now:     func() time.Time { return now },
	}, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Summary.AccountsWithErrors)
	assert.Equal(t, 1, res.Summary.ProcessedAccounts)
	assert.Equal(t, 1, res.Summary.EmptyAccounts)
	assert.Empty(t, res.Instances, "a failed account must contribute no records")
	assert.ErrorIs(t, res.Accounts[0].Err, ErrScan)
}

func TestRun_AllRegions(t *testing.T) {
	lister := &mockLister{}
	lister.On("ActiveAccounts", mock.Anything).Return([]org.Account{acctA}, nil)
	delegator := &mockDelegator{}
	delegator.On("Delegate", mock.Anything, acctA.ID, DefaultRegion).Return(aws.Config{Region: DefaultRegion}, nil)

	scanners := newScannerSet()
	scanners.add(acctA.ID, DefaultRegion, &fakeScanner{regions: []string{"us-east-1", "ap-south-1"}})
	scanners.add(acctA.ID, "ap-south-1", &fakeScanner{instances: []ec2.Instance{stoppedAgo("i-ap", 1)}})

	res, err := New(lister, delegator, scanners.factory, Config{
		AllRegions: true,
		Now:        func() time.Time { return now },
	}, nil).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Instances, 1)
	assert.Equal(t, "ap-south-1", res.Instances[0].Region)
	assert.Equal(t, []string{"us-east-1", "ap-south-1"}, res.Accounts[0].Regions)
}

func TestRun_AllRegionsUsesHomeRegion(t *testing.T) {
	lister := &mockLister{}
	lister.On("ActiveAccounts", mock.Anything).Return([]org.Account{acctA}, nil)
	delegator := &mockDelegator{}
	delegator.On("Delegate", mock.Anything, acctA.ID, "cn-north-1").Return(aws.Config{Region: "cn-north-1"}, nil)

	scanners := newScannerSet()
	scanners.add(acctA.ID, "cn-north-1", &fakeScanner{
		regions:   []string{"cn-north-1", "cn-northwest-1"},
		instances: []ec2.Instance{stoppedAgo("i-bj", 2)},
	})
	scanners.add(acctA.ID, "cn-northwest-1", &fakeScanner{})

	res, err := New(lister, delegator, scanners.factory, Config{
		AllRegions: true,
		HomeRegion: "cn-north-1",
		Now:        func() time.Time { return now },
	}, nil).Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, res.Accounts[0].Err)
	assert.Equal(t, []string{"cn-north-1", "cn-northwest-1"}, res.Accounts[0].Regions)
	require.Len(t, res.Instances, 1)
	assert.Equal(t, "cn-north-1", res.Instances[0].Region)
	delegator.AssertNotCalled(t, "Delegate", mock.Anything, acctA.ID, DefaultRegion)
}

func TestRun_IncludeVolumes(t *testing.T) {
	lister := &mockLister{}
	lister.On("ActiveAccounts", mock.Anything).Return([]org.Account{acctA}, nil)
	delegator := &mockDelegator{}
	delegator.On("Delegate", mock.Anything, mock.Anything, mock.Anything).Return(aws.Config{Region: "us-east-1"}, nil)

	latest := now.AddDate(0, -1, 0)
	scanners := newScannerSet()
	scanners.add(acctA.ID, "us-east-1", &fakeScanner{
		instances: []ec2.Instance{stoppedAgo("i-a", 30)},
		volumes: []ec2.Volume{
			{ID: "vol-1", InstanceID: "i-a", Region: "us-east-1", Type: "gp2", SizeGiB: 50},
		},
		snapshots: ec2.SnapshotSummary{Count: 2, Latest: &latest},
	})

	res, err := New(lister, delegator, scanners.factory, Config{
		IncludeVolumes: true,
		Now:            func() time.Time { return now },
	}, nil).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Volumes, 1)
	vol := res.Volumes[0]
	assert.Equal(t, ec2.RecommendGP3, vol.Recommendation)
	assert.Equal(t, 2, vol.SnapshotCount)
	assert.Equal(t, acctA.ID, vol.AccountID)
	assert.Equal(t, 1, res.Summary.TotalVolumes)
}

func TestRun_SnapshotFailureKeepsVolume(t *testing.T) {
	lister := &mockLister{}
	lister.On("ActiveAccounts", mock.Anything).Return([]org.Account{acctA}, nil)
	delegator := &mockDelegator{}
	delegator.On("Delegate", mock.Anything, mock.Anything, mock.Anything).Return(aws.Config{Region: "us-east-1"}, nil)

	scanners := newScannerSet()
	scanners.add(acctA.ID, "us-east-1", &fakeScanner{
		instances: []ec2.Instance{stoppedAgo("i-a", 30)},
		volumes:   []ec2.Volume{{ID: "vol-1", Type: "gp3"}},
		snapErr:   errors.New("throttled"),
	})

	res, err := New(lister, delegator, scanners.factory, Config{IncludeVolumes: true}, nil).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Volumes, 1)
	assert.Equal(t, 0, res.Volumes[0].SnapshotCount)
	assert.Equal(t, 0, res.Summary.AccountsWithErrors)
}

func TestRun_ProgressCallback(t *testing.T) {
	lister, delegator, scanners := threeAccountFixture()
	c := New(lister, delegator, scanners.factory, Config{Now: func() time.Time { return now }}, nil)

	var seen []string
	c.SetProgressCallback(func(current, total int, account org.Account) {
		assert.Equal(t, 3, total)
		seen = append(seen, account.ID)
	})
	_, err := c.Run(context.Background())
	require.NoError(t, err)

	sort.Strings(seen)
	assert.Equal(t, []string{acctA.ID, acctB.ID, acctC.ID}, seen)
}

func TestPartition_Threshold(t *testing.T) {
	days := func(n int) *int { return &n }
	records := []Record{
		{InstanceID: "exact", StoppedDays: days(365)},
		{InstanceID: "over", StoppedDays: days(366)},
		{InstanceID: "under", StoppedDays: days(12)},
		{InstanceID: "unknown"},
	}

	long := Partition(records, 365)
	require.Len(t, long, 1)
	assert.Equal(t, "over", long[0].InstanceID)
}

func TestBuildRecord_FallbackAndDefaults(t *testing.T) {
	launch := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	empty := ""
	inst := ec2.Instance{ID: "i-1", Type: "m5.large", Region: "us-east-1", StateTransitionReason: &empty, LaunchTime: &launch}

	rec := BuildRecord(acctA, inst, now, nil)

	assert.Equal(t, NotAvailable, rec.Name)
	assert.Equal(t, NotAvailable, rec.PrivateIP)
	assert.Equal(t, NotAvailable, rec.VPCID)
	assert.Equal(t, NotAvailable, rec.SubnetID)
	require.NotNil(t, rec.StopTime)
	assert.True(t, rec.StopTime.Equal(launch))
	assert.True(t, rec.StopTimeApproximated)
	assert.Equal(t, 31, *rec.StoppedDays)
	assert.Equal(t, acctA.ID, rec.AccountID)
	assert.Equal(t, "alpha", rec.AccountName)
}

func TestBuildRecord_ParsedStopTime(t *testing.T) {
	launch := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	reason := "User initiated (2023-01-01 00:00:00 GMT)"
	ip := "10.1.2.3"
	inst := ec2.Instance{
		ID: "i-2", StateTransitionReason: &reason, LaunchTime: &launch,
		Tags: map[string]string{"Name": "batch"}, PrivateIP: &ip,
	}

	rec := BuildRecord(acctA, inst, now, nil)
	assert.Equal(t, "batch", rec.Name)
	assert.Equal(t, ip, rec.PrivateIP)
	assert.False(t, rec.StopTimeApproximated)
	assert.Equal(t, 31, *rec.StoppedDays)
}
