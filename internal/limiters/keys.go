package limiters

import "strconv"

func normalizeTenantID(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}

func issueOwnerKey(tenantID string, purpose uint8, ownerRef string) string {
	return "io:" + normalizeTenantID(tenantID) + ":" + strconv.Itoa(int(purpose)) + ":" + ownerRef
}

func issueIPKey(tenantID, ip string) string {
	return "iip:" + normalizeTenantID(tenantID) + ":" + ip
}

func verifyChallengeKey(tenantID, challengeID string) string {
	return "vc:" + normalizeTenantID(tenantID) + ":" + challengeID
}

func verifyIPKey(tenantID, ip string) string {
	return "vip:" + normalizeTenantID(tenantID) + ":" + ip
}

func redeemIPKey(tenantID, ip string) string {
	return "rip:" + normalizeTenantID(tenantID) + ":" + ip
}
