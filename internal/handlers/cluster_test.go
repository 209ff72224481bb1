package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/clay-wangzhi/llmd-polaris/internal/k8s"
	"github.com/clay-wangzhi/llmd-polaris/internal/services"
)

// ClusterHandlerTestSuite 定义集群处理器测试套件
type ClusterHandlerTestSuite struct {
	suite.Suite
	db      *gorm.DB
	mock    sqlmock.Sqlmock
	router  *gin.Engine
	handler *ClusterHandler
}

// SetupTest 每个测试前的设置
func (s *ClusterHandlerTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	// 创建 mock 数据库
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

	s.handler = NewClusterHandler(services.NewClusterService(gormDB), k8s.NewClusterClientManager(nil))

	// 设置路由
	s.router = gin.New()
	s.router.GET("/api/v1/clusters", s.handler.GetClusters)
	s.router.POST("/api/v1/clusters/import", s.handler.ImportCluster)
	s.router.POST("/api/v1/clusters/:name/test-connection", s.handler.TestConnection)
	s.router.DELETE("/api/v1/clusters/:name", s.handler.DeleteCluster)
}

// TearDownTest 每个测试后的清理
func (s *ClusterHandlerTestSuite) TearDownTest() {
	if s.db != nil {
		sqlDB, _ := s.db.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}
}

func (s *ClusterHandlerTestSuite) decode(w *httptest.ResponseRecorder) map[string]interface{} {
	var response map[string]interface{}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &response))
	return response
}

// TestGetClusters 测试获取集群列表
func (s *ClusterHandlerTestSuite) TestGetClusters() {
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "name", "context", "api_server", "version", "status", "status_reason", "labels", "created_at", "updated_at",
	}).AddRow(1, "prod", "prod", "https://prod.example.com:6443", "v1.29.3", "healthy", "", "{}", now, now)

	s.mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `clusters`")).
		WillReturnRows(rows)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/clusters", nil)
	s.router.ServeHTTP(w, req)

	assert.Equal(s.T(), http.StatusOK, w.Code)
	response := s.decode(w)
	assert.Equal(s.T(), float64(200), response["code"])
	assert.Equal(s.T(), "获取成功", response["message"])

	data := response["data"].(map[string]interface{})
	items := data["items"].([]interface{})
	s.Require().Len(items, 1)

	cluster := items[0].(map[string]interface{})
	assert.Equal(s.T(), "prod", cluster["name"])
	assert.Equal(s.T(), "https://prod.example.com:6443", cluster["apiServer"])
	assert.Equal(s.T(), "healthy", cluster["status"])
	assert.Equal(s.T(), float64(1), data["total"])
}

// TestGetClusters_DBError 测试数据库错误
func (s *ClusterHandlerTestSuite) TestGetClusters_DBError() {
	s.mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `clusters`")).
		WillReturnError(gorm.ErrInvalidDB)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/clusters", nil)
	s.router.ServeHTTP(w, req)

	assert.Equal(s.T(), http.StatusInternalServerError, w.Code)
}

// TestImportCluster_EmptyBody 测试缺少导入内容
func (s *ClusterHandlerTestSuite) TestImportCluster_EmptyBody() {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/clusters/import", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	assert.Equal(s.T(), http.StatusBadRequest, w.Code)
}

// TestImportCluster_InvalidKubeconfig 测试非法 kubeconfig
func (s *ClusterHandlerTestSuite) TestImportCluster_InvalidKubeconfig() {
	body, _ := json.Marshal(ImportClusterRequest{Kubeconfig: "contexts: [unterminated"})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/clusters/import", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	assert.Equal(s.T(), http.StatusBadRequest, w.Code)
}

// TestImportCluster_ClustersFile 测试按 YAML 集群列表导入
func (s *ClusterHandlerTestSuite) TestImportCluster_ClustersFile() {
	s.mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `clusters` WHERE name = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `clusters`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	s.mock.ExpectCommit()
	s.mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `clusters` WHERE name = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	body, _ := json.Marshal(ImportClusterRequest{Clusters: `clusters:
- name: prod
  apiServer: https://prod.example.com:6443
  token: abc
- name: dev
  apiServer: https://dev.example.com:6443
`})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/clusters/import", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	assert.Equal(s.T(), http.StatusOK, w.Code)
	data := s.decode(w)["data"].(map[string]interface{})
	assert.Equal(s.T(), []interface{}{"prod"}, data["imported"])
	assert.Equal(s.T(), []interface{}{"dev"}, data["skipped"])
	assert.NoError(s.T(), s.mock.ExpectationsWereMet())
}

// TestDeleteCluster 测试删除集群
func (s *ClusterHandlerTestSuite) TestDeleteCluster() {
	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `clusters` WHERE name = ?")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("DELETE", "/api/v1/clusters/prod", nil)
	s.router.ServeHTTP(w, req)

	assert.Equal(s.T(), http.StatusOK, w.Code)
	assert.Equal(s.T(), "删除成功", s.decode(w)["message"])
}

// TestDeleteCluster_NotFound 测试删除不存在的集群
func (s *ClusterHandlerTestSuite) TestDeleteCluster_NotFound() {
	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `clusters` WHERE name = ?")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectCommit()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("DELETE", "/api/v1/clusters/missing", nil)
	s.router.ServeHTTP(w, req)

	assert.Equal(s.T(), http.StatusNotFound, w.Code)
}

// TestTestConnection_NotFound 测试连接未注册的集群
func (s *ClusterHandlerTestSuite) TestTestConnection_NotFound() {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/clusters/missing/test-connection", nil)
	s.router.ServeHTTP(w, req)

	assert.Equal(s.T(), http.StatusNotFound, w.Code)
}

// TestClusterHandlerSuite 运行测试套件
func TestClusterHandlerSuite(t *testing.T) {
	suite.Run(t, new(ClusterHandlerTestSuite))
}
