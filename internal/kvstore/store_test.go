package kvstore

import (
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/clay-wangzhi/llmd-polaris/internal/config"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	_, ok := s.GetItem("missing")
	assert.False(t, ok)

	s.SetItem("k", "v1")
	s.SetItem("k", "v2")
	v, ok := s.GetItem("k")
	assert.True(t, ok)
	assert.Equal(t, "v2", v)

	s.RemoveItem("k")
	_, ok = s.GetItem("k")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestBadgerStore_InMemory(t *testing.T) {
	s, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)

	s.SetItem("cache:stacks", `{"data":[]}`)
	v, ok := s.GetItem("cache:stacks")
	assert.True(t, ok)
	assert.Equal(t, `{"data":[]}`, v)

	s.RemoveItem("cache:stacks")
	_, ok = s.GetItem("cache:stacks")
	assert.False(t, ok)

	require.NoError(t, s.Close())

	// 关闭后写入静默失败
	assert.NotPanics(t, func() { s.SetItem("k", "v") })
}

func TestOpen_FallsBackToMemory(t *testing.T) {
	s, closeFn := Open(config.CacheConfig{Store: BackendDatabase}, nil)
	defer func() { _ = closeFn() }()
	_, isMemory := s.(*MemoryStore)
	assert.True(t, isMemory)

	s, closeFn = Open(config.CacheConfig{Store: "etcd"}, nil)
	defer func() { _ = closeFn() }()
	_, isMemory = s.(*MemoryStore)
	assert.True(t, isMemory)
}

// GormStoreTestSuite 数据库存储测试套件
type GormStoreTestSuite struct {
	suite.Suite
	db    *gorm.DB
	mock  sqlmock.Sqlmock
	store *GormStore
}

// SetupTest 每个测试前的设置
func (s *GormStoreTestSuite) SetupTest() {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	s.Require().NoError(err)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	s.Require().NoError(err)

	s.db = gormDB
	s.mock = mock
	s.store = NewGormStore(gormDB)
}

// TearDownTest 每个测试后的清理
func (s *GormStoreTestSuite) TearDownTest() {
	if s.db != nil {
		sqlDB, _ := s.db.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}
}

// TestGetItem_Found 测试读取已存在的记录
func (s *GormStoreTestSuite) TestGetItem_Found() {
	rows := sqlmock.NewRows([]string{"cache_key", "value", "updated_at"}).
		AddRow("cache:clusters", `{"data":["a"]}`, nil)
	s.mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `kv_entries` WHERE cache_key = ?")).
		WillReturnRows(rows)

	v, ok := s.store.GetItem("cache:clusters")
	s.True(ok)
	s.Equal(`{"data":["a"]}`, v)
	s.NoError(s.mock.ExpectationsWereMet())
}

// TestGetItem_Missing 测试读取不存在的记录
func (s *GormStoreTestSuite) TestGetItem_Missing() {
	s.mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `kv_entries`")).
		WillReturnRows(sqlmock.NewRows([]string{"cache_key", "value", "updated_at"}))

	_, ok := s.store.GetItem("cache:none")
	s.False(ok)
}

// TestGetItem_DBError 测试数据库不可用时静默返回
func (s *GormStoreTestSuite) TestGetItem_DBError() {
	s.mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `kv_entries`")).
		WillReturnError(errors.New("database is closed"))

	_, ok := s.store.GetItem("cache:clusters")
	s.False(ok)
}

// TestSetItem_Upsert 测试写入使用 upsert
func (s *GormStoreTestSuite) TestSetItem_Upsert() {
	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `kv_entries`") + ".*ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	s.store.SetItem("cache:clusters", `{"data":[]}`)
	s.NoError(s.mock.ExpectationsWereMet())
}

// TestSetItem_DBError 测试写入失败不抛出
func (s *GormStoreTestSuite) TestSetItem_DBError() {
	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `kv_entries`")).
		WillReturnError(errors.New("quota exceeded"))
	s.mock.ExpectRollback()

	s.NotPanics(func() { s.store.SetItem("cache:clusters", "{}") })
}

// TestRemoveItem 测试删除记录
func (s *GormStoreTestSuite) TestRemoveItem() {
	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `kv_entries` WHERE cache_key = ?")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	s.store.RemoveItem("cache:clusters")
	s.NoError(s.mock.ExpectationsWereMet())
}

// TestGormStoreSuite 运行测试套件
func TestGormStoreSuite(t *testing.T) {
	suite.Run(t, new(GormStoreTestSuite))
}
