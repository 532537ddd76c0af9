package feishusdk

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkbitable "github.com/larksuite/oapi-sdk-go/v3/service/bitable/v1"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var hostAllowList = []string{"feishu.cn", "feishuapp.com", "larksuite.com", "larkoffice.com"}

// BitableRef captures identifiers parsed from a Feishu Bitable link.
type BitableRef struct {
	RawURL   string
	AppToken string
	TableID  string
	ViewID   string
}

func isAllowedFeishuHost(host string) bool {
	lower := strings.ToLower(strings.TrimSpace(host))
	if lower == "" {
		return false
	}
	for _, allowed := range hostAllowList {
		if strings.HasSuffix(lower, allowed) {
			return true
		}
	}
	return false
}

// ParseBitableURL extracts app token, table id and view id from a
// https://<tenant>.feishu.cn/base/<app>?table=<id> link.
func ParseBitableURL(raw string) (ref BitableRef, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "parse bitable url failed")
		}
	}()

	ref = BitableRef{RawURL: strings.TrimSpace(raw)}
	if ref.RawURL == "" {
		return ref, errors.New("empty url")
	}
	u, err := url.Parse(ref.RawURL)
	if err != nil {
		return ref, errors.Wrap(err, "invalid url")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return ref, errors.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if !isAllowedFeishuHost(u.Host) {
		return ref, errors.Errorf("host %q is not recognized as Feishu", u.Host)
	}

	segments := strings.FieldsFunc(strings.Trim(u.Path, "/"), func(r rune) bool { return r == '/' })
	for i := 0; i < len(segments)-1; i++ {
		if segments[i] == "base" {
			ref.AppToken = segments[i+1]
			break
		}
	}
	if ref.AppToken == "" {
		return ref, errors.New("missing app token in url, expected /base/<app_token>")
	}

	q := u.Query()
	for _, key := range []string{"table", "tableId", "table_id"} {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			ref.TableID = v
			break
		}
	}
	if ref.TableID == "" {
		return ref, errors.New("missing table id in url query")
	}
	for _, key := range []string{"view", "viewId", "view_id"} {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			ref.ViewID = v
			break
		}
	}
	return ref, nil
}

// UpsertRecord writes fields into the row whose keyField equals key, creating
// the row when none matches. Record ids are remembered per key.
func (c *Client) UpsertRecord(ctx context.Context, ref BitableRef, keyField, key string, fields map[string]any) (recordID string, err error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("feishu: upsert key is empty")
	}
	if len(fields) == 0 {
		return "", errors.New("feishu: no fields provided for upsert")
	}
	cacheKey := ref.AppToken + "/" + ref.TableID + "/" + key

	c.recordMu.Lock()
	recordID = c.recordIDs[cacheKey]
	c.recordMu.Unlock()

	if recordID == "" {
		recordID, err = c.searchRecordID(ctx, ref, keyField, key)
		if err != nil {
			return "", err
		}
	}
	if recordID != "" {
		if err := c.updateRecord(ctx, ref, recordID, fields); err != nil {
			return "", err
		}
	} else {
		recordID, err = c.createRecord(ctx, ref, fields)
		if err != nil {
			return "", err
		}
		log.Info().Str("table_id", ref.TableID).Str("key", key).Str("record_id", recordID).Msg("bitable record created")
	}

	c.recordMu.Lock()
	if c.recordIDs == nil {
		c.recordIDs = make(map[string]string)
	}
	c.recordIDs[cacheKey] = recordID
	c.recordMu.Unlock()
	return recordID, nil
}

func (c *Client) searchRecordID(ctx context.Context, ref BitableRef, field, value string) (string, error) {
	api, opts, err := c.bitableSDK(ctx)
	if err != nil {
		return "", err
	}
	body := &larkbitable.SearchAppTableRecordReqBody{
		Filter: &larkbitable.FilterInfo{
			Conjunction: larkcore.StringPtr("and"),
			Conditions: []*larkbitable.Condition{{
				FieldName: larkcore.StringPtr(field),
				Operator:  larkcore.StringPtr("is"),
				Value:     []string{value},
			}},
		},
	}
	resp, err := api.Search(ctx, ref.AppToken, ref.TableID, 1, body, opts...)
	if err != nil {
		return "", errors.Wrap(err, "feishu: search record request failed")
	}
	if resp == nil || resp.ApiResp == nil {
		return "", errors.New("feishu: empty response when searching records")
	}
	if err := ensureSDKSuccess("search records", resp.Success(), resp.Code, resp.Msg, resp.RequestId()); err != nil {
		return "", err
	}
	if resp.Data == nil {
		return "", nil
	}
	for _, item := range resp.Data.Items {
		if item == nil {
			continue
		}
		if id := strings.TrimSpace(larkcore.StringValue(item.RecordId)); id != "" {
			return id, nil
		}
	}
	return "", nil
}

func (c *Client) createRecord(ctx context.Context, ref BitableRef, fields map[string]any) (string, error) {
	api, opts, err := c.bitableSDK(ctx)
	if err != nil {
		return "", err
	}
	record := larkbitable.NewAppTableRecordBuilder().Fields(fields).Build()
	resp, err := api.Create(ctx, ref.AppToken, ref.TableID, record, opts...)
	if err != nil {
		return "", errors.Wrap(err, "feishu: create record request failed")
	}
	if resp == nil || resp.ApiResp == nil {
		return "", errors.New("feishu: empty response when creating record")
	}
	if err := ensureSDKSuccess("create record", resp.Success(), resp.Code, resp.Msg, resp.RequestId()); err != nil {
		return "", err
	}
	if resp.Data == nil || resp.Data.Record == nil {
		return "", errors.New("feishu: create record response missing record")
	}
	id := strings.TrimSpace(larkcore.StringValue(resp.Data.Record.RecordId))
	if id == "" {
		return "", errors.New("feishu: create record response missing record id")
	}
	return id, nil
}

func (c *Client) updateRecord(ctx context.Context, ref BitableRef, recordID string, fields map[string]any) error {
	api, opts, err := c.bitableSDK(ctx)
	if err != nil {
		return err
	}
	record := larkbitable.NewAppTableRecordBuilder().Fields(fields).Build()
	resp, err := api.Update(ctx, ref.AppToken, ref.TableID, recordID, record, opts...)
	if err != nil {
		return fmt.Errorf("feishu: update record %s request failed: %w", recordID, err)
	}
	if resp == nil || resp.ApiResp == nil {
		return errors.New("feishu: empty response when updating record")
	}
	return ensureSDKSuccess("update record", resp.Success(), resp.Code, resp.Msg, resp.RequestId())
}
